package gcode

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"

	"go.bug.st/serial"

	"github.com/js-god/printipi/pkg/log"
)

// Serve reads command lines from r and writes replies to w until EOF
// or context cancellation. This is the single command-producer thread.
func Serve(ctx context.Context, d *Dispatcher, r io.Reader, w io.Writer) error {
	logger := log.GetLogger("gcode")
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Text()
		reply, err := d.Execute(line)
		if err != nil {
			logger.WithError(err).Warn("rejected: %s", line)
			reply = fmt.Sprintf("Error: %v", err)
		}
		if w != nil {
			fmt.Fprintln(w, reply)
		}
	}
	return scanner.Err()
}

// OpenSerial opens a serial command transport.
func OpenSerial(device string, baud int) (io.ReadWriteCloser, error) {
	port, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}
	return port, nil
}

// ServeTCP accepts connections on addr and serves them one at a time:
// the command stream stays a single producer.
func ServeTCP(ctx context.Context, d *Dispatcher, addr string) error {
	logger := log.GetLogger("gcode")
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	logger.Info("listening on %s", addr)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		logger.Info("client %s connected", conn.RemoteAddr())
		if err := Serve(ctx, d, conn, conn); err != nil {
			logger.WithError(err).Warn("client stream ended")
		}
		conn.Close()
	}
}
