package projector

import (
	"bufio"
	"context"
	"log"
	"strings"

	"go.bug.st/serial"
)

// ProjectorPort drives the projector over its RS-232 control protocol
// (ESC/VP21): CR-terminated ASCII commands, responses ending with a
// ':' prompt.
type ProjectorPort struct {
	serial.Port
	responses chan string
	commands  chan string
}

// NewProjectorPort opens the control port at the protocol's fixed
// 9600 8N1.
func NewProjectorPort(portName string) (*ProjectorPort, error) {
	mode := &serial.Mode{
		BaudRate: 9600,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, err
	}

	responses := make(chan string, 16)
	commands := make(chan string, 8)
	return &ProjectorPort{port, responses, commands}, nil
}

// Responses returns the channel of parsed replies from the projector.
func (p *ProjectorPort) Responses() <-chan string {
	return p.responses
}

// SendCommand queues a command for the monitor loop. A full queue
// drops the command rather than stall the caller.
func (p *ProjectorPort) SendCommand(command string) {
	select {
	case p.commands <- command:
	default:
		log.Printf("[Projector] Command queue full, dropping %q", command)
	}
}

func (p *ProjectorPort) writeCommand(command string) error {
	_, err := p.Port.Write([]byte(command + "\r"))
	if err != nil {
		log.Printf("[Projector] Error writing to port: %v", err)
		return err
	}
	return nil
}

// scanResponses splits the serial stream on the protocol terminators:
// a CR closes a reply body, a ':' is the ready prompt.
func scanResponses(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i, b := range data {
		if b == '\r' || b == '\n' || b == ':' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// Monitor writes queued commands and forwards projector replies to
// the responses channel until the context ends. Closing the port
// unblocks the reader.
func (p *ProjectorPort) Monitor(ctx context.Context) error {
	defer p.Close()

	readErr := make(chan error, 1)
	go func() {
		scan := bufio.NewScanner(p.Port)
		scan.Split(scanResponses)
		for scan.Scan() {
			line := strings.TrimSpace(scan.Text())
			if line == "" {
				continue
			}
			select {
			case p.responses <- line:
			case <-ctx.Done():
				readErr <- nil
				return
			}
		}
		readErr <- scan.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case command := <-p.commands:
			if err := p.writeCommand(command); err != nil {
				log.Printf("[Projector] Failed to send %q: %v", command, err)
			}
		}
	}
}
