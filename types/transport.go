package types

// TransportEndpointId identifies a transport-layer connection by its local
// and remote address/port pair.
type TransportEndpointId struct {
	// LocalPort is the local port associated with the endpoint
	LocalPort uint16

	// LocalAddress is the local network-layer address associated with the
	// endpoint
	LocalAddress Address

	// RemotePort is the remote port associated with the endpoint
	RemotePort uint16

	// RemoteAddress is the remote network-layer address associated with
	// the endpoint
	RemoteAddress Address
}
