package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/CodedInternet/gorover/onboard"
	"github.com/CodedInternet/gorover/onboard/drive"
	"github.com/CodedInternet/gorover/onboard/hardware"
	"github.com/abiosoft/ishell"
)

func newShell(ctx context.Context, robot *onboard.Robot) *ishell.Shell {
	d := robot.Drive

	routineNames := func([]string) []string {
		names := make([]string, 0, len(robot.Config.Routines))
		for name := range robot.Config.Routines {
			names = append(names, name)
		}
		sort.Strings(names)
		return names
	}

	shell := ishell.New()
	shell.Println("Rover drive shell")
	shell.ShowPrompt(true)

	shell.AddCmd(&ishell.Cmd{
		Name: "move",
		Help: "move <velocity> <bias> (percent, -100..100)",
		Func: func(c *ishell.Context) {
			if !needArgs(c, 2) {
				return
			}
			velocity, err1 := strconv.Atoi(c.Args[0])
			bias, err2 := strconv.Atoi(c.Args[1])
			if err1 != nil || err2 != nil {
				c.Err(fmt.Errorf("velocity and bias must be whole numbers"))
				return
			}
			c.Printf("Moving at %d%% bias %d%%\n", velocity, bias)
			report(c, d.Move(ctx, velocity, bias))
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "turn",
		Help: "turn <degrees> <velocity>, positive velocity turns clockwise",
		Func: func(c *ishell.Context) {
			if !needArgs(c, 2) {
				return
			}
			degrees, err1 := strconv.ParseFloat(c.Args[0], 64)
			velocity, err2 := strconv.Atoi(c.Args[1])
			if err1 != nil || err2 != nil {
				c.Err(fmt.Errorf("usage: turn <degrees> <velocity>"))
				return
			}
			c.Printf("Turning %.1f degrees at %d%%\n", degrees, velocity)
			report(c, d.Turn(ctx, degrees, velocity))
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "distance",
		Help: "distance <cm> <velocity>",
		Func: func(c *ishell.Context) {
			if !needArgs(c, 2) {
				return
			}
			cm, err1 := strconv.ParseFloat(c.Args[0], 64)
			velocity, err2 := strconv.Atoi(c.Args[1])
			if err1 != nil || err2 != nil {
				c.Err(fmt.Errorf("usage: distance <cm> <velocity>"))
				return
			}
			c.Printf("Moving %.1fcm at %d%%\n", cm, velocity)
			report(c, d.MoveDistance(ctx, cm, velocity))
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "stop",
		Help: "stop the robot and engage the brakes",
		Func: func(c *ishell.Context) {
			report(c, d.Stop(ctx))
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "brakes",
		Help: "brakes <on|off>",
		Func: func(c *ishell.Context) {
			if !needArgs(c, 1) {
				return
			}
			switch c.Args[0] {
			case "on":
				report(c, d.SetBrakesEnabled(ctx, true))
			case "off":
				report(c, d.SetBrakesEnabled(ctx, false))
			default:
				c.Err(fmt.Errorf("usage: brakes <on|off>"))
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "velocity",
		Help: "velocity <left|right> <percent>, force the velocity of one wheel",
		Func: func(c *ishell.Context) {
			if !needArgs(c, 2) {
				return
			}
			var wheel hardware.Wheel
			switch c.Args[0] {
			case "left":
				wheel = hardware.LeftWheel
			case "right":
				wheel = hardware.RightWheel
			default:
				c.Err(fmt.Errorf("unknown wheel %q", c.Args[0]))
				return
			}
			pct, err := strconv.ParseFloat(c.Args[1], 64)
			if err != nil {
				c.Err(err)
				return
			}
			report(c, d.SetWheelVelocity(ctx, wheel, pct))
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "state",
		Help: "show the control loop state",
		Func: func(c *ishell.Context) {
			s := d.Status()
			c.Printf("connected: %v  pending: %v  moving: %v  brakes: %v\n", s.Connected, s.Pending, s.Loop.Moving, s.Brakes)
			c.Printf("movement: %s  velocity: %d  bias: %d  ticks: %d  stop: %s\n", s.MovementID, s.Velocity, s.Bias, s.Ticks, s.StopReason)
			for _, w := range hardware.Wheels {
				ws := s.Wheels[w]
				c.Printf("%-5s  velocity: %5.1f%%  forward: %-5v  clicks: %d/%d\n", w, ws.Velocity, ws.Forward, ws.ClicksMoved, targetClicks(s.Target, w))
			}
			c.Printf("pid: %v  reduced: %v  integral: %.1f  errors: %.2f / %.2f\n",
				s.Loop.PIDEnabled, s.Loop.SpeedReduced, s.Loop.Integral, s.Loop.LeftError, s.Loop.RightError)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "pose",
		Help: "show the odometry estimate, pose reset clears it",
		Func: func(c *ishell.Context) {
			if len(c.Args) > 0 && c.Args[0] == "reset" {
				robot.Odometer.Reset()
			}
			p := robot.Odometer.Pose()
			c.Printf("x: %.1fcm  y: %.1fcm  heading: %.1f°  travelled: %.1fcm\n",
				p.Position.X(), p.Position.Y(), p.HeadingDegrees(), robot.Odometer.Distance())
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "diag",
		Help: "read the motor driver thermal flags and current sense",
		Func: func(c *ishell.Context) {
			states, err := robot.Diagnostics()
			for _, w := range hardware.Wheels {
				c.Printf("%-5s  overheated: %-5v  current sense: %.3fV\n", w, states[w].Overheated, states[w].Current)
			}
			if err != nil {
				c.Err(err)
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name:      "routine",
		Help:      "routine <name>, run a configured drive routine",
		Completer: routineNames,
		Func: func(c *ishell.Context) {
			if !needArgs(c, 1) {
				return
			}
			r, err := robot.Routine(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			c.Printf("Running routine %s (%d steps)\n", r.Name, len(r.Steps))
			report(c, r.Run(ctx, d))
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "wait",
		Help: "wait until the robot has stopped",
		Func: func(c *ishell.Context) {
			report(c, d.WaitUntilStopped(ctx, onboard.ROUTINE_POLL))
		},
	})

	return shell
}

func needArgs(c *ishell.Context, n int) bool {
	if len(c.Args) < n {
		c.Err(fmt.Errorf("expected %d arguments, got %d", n, len(c.Args)))
		return false
	}
	return true
}

func report(c *ishell.Context, err error) {
	if err != nil {
		c.Err(err)
		return
	}
	c.Println("ok")
}

func targetClicks(t drive.MotionTarget, w hardware.Wheel) uint32 {
	if w == hardware.LeftWheel {
		return t.LeftClicks
	}
	return t.RightClicks
}
