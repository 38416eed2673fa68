package service

import (
	"context"

	"beacon/internal/transport"
)

//go:generate mockgen -destination=mock_transport.go -package=service beacon/internal/service Transport

// Transport is the datagram channel the engines send and receive on
type Transport interface {
	Send(ctx context.Context, data []byte, address string, port int) error
	AddService(id byte, handler transport.Handler)
	RemoveService(id byte)
	IsInitialized() bool
}
