package kernelgrpc

// Config controls the kernel gRPC server setup.
type Config struct {
	// Listen is unix:///path, an absolute socket path, or host:port.
	Listen string
}
