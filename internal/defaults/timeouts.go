package defaults

import "time"

const (
	// ConnectTimeout is the default timeout for establishing the TCP connection.
	ConnectTimeout = 10 * time.Second
	// RegisterTimeout is the default timeout for completing nickname registration.
	RegisterTimeout = 10 * time.Second
)
