package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Exits 0 when the named health service reports SERVING. Meant for container
// health checks against the plaintext gRPC listener.
func main() {
	addr := flag.String("addr", "localhost:50053", "gRPC health address")
	service := flag.String("service", "", "health service name, empty for the whole process")
	timeout := flag.Duration("timeout", 3*time.Second, "probe timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", *addr, err)
		os.Exit(2)
	}
	defer conn.Close()

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: *service})
	if err != nil {
		fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
		os.Exit(2)
	}
	fmt.Println(resp.GetStatus().String())
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		os.Exit(1)
	}
}
