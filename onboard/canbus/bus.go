package canbus

// CANBusInterface is the part of a bus a node needs: a way to send and a channel
// to receive the frames addressed to it.
type CANBusInterface interface {
	AddListener(nodeId uint32, rxchan chan CANMsg)
	SendMsg(msg CANMsg) error
}
