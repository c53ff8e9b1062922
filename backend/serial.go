package backend

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
)

var ErrLinkClosed = errors.New("link closed")

// SerialLink drives an RF dongle that speaks a line protocol:
//
//	-> TX <code> <pulse> <protocol>
//	<- OK | ERR <reason>
//	<- RX <code> <pulse> <protocol>   (unsolicited, one per received code)
type SerialLink struct {
	rw io.ReadWriteCloser

	wmu  sync.Mutex // one command in flight
	acks chan error
	rx   chan Code

	closeOnce sync.Once
	done      chan struct{}
}

// OpenSerial opens a character device that has already been configured for
// the dongle's baud rate.
func OpenSerial(device string) (*SerialLink, error) {
	f, err := os.OpenFile(device, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", device, err)
	}
	slog.Info("Opened RF dongle", "device", device)
	return NewSerialLink(f), nil
}

func NewSerialLink(rw io.ReadWriteCloser) *SerialLink {
	l := &SerialLink{
		rw:   rw,
		acks: make(chan error, 1),
		rx:   make(chan Code, 8),
		done: make(chan struct{}),
	}
	go l.readLoop()
	return l
}

func (l *SerialLink) readLoop() {
	defer l.Close()
	scanner := bufio.NewScanner(l.rw)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		verb, rest, _ := strings.Cut(line, " ")
		switch verb {
		case "OK":
			l.ack(nil)
		case "ERR":
			l.ack(fmt.Errorf("dongle: %s", rest))
		case "RX":
			code, err := parseCode(rest)
			if err != nil {
				slog.Warn("Ignoring malformed RX line", "line", line, "error", err)
				continue
			}
			select {
			case l.rx <- code:
			default:
				slog.Debug("Dropping received code, nobody is learning", "code", code.Value)
			}
		case "":
		default:
			slog.Debug("Ignoring dongle output", "line", line)
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("RF dongle read failed", "error", err)
	}
}

func (l *SerialLink) ack(err error) {
	select {
	case l.acks <- err:
	default:
		slog.Debug("Unexpected acknowledgement from dongle", "error", err)
	}
}

func (l *SerialLink) Transmit(ctx context.Context, code Code) error {
	l.wmu.Lock()
	defer l.wmu.Unlock()

	// Drop a stale ack left by an earlier timed-out command.
	select {
	case <-l.acks:
	default:
	}

	line := fmt.Sprintf("TX %s %d %d\n", code.Value, code.PulseLength, code.Protocol)
	if _, err := io.WriteString(l.rw, line); err != nil {
		return fmt.Errorf("write to dongle: %w", err)
	}
	select {
	case err := <-l.acks:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrLinkClosed
	}
}

func (l *SerialLink) Learn(ctx context.Context) (Code, error) {
	select {
	case code := <-l.rx:
		return code, nil
	case <-ctx.Done():
		return Code{}, ctx.Err()
	case <-l.done:
		return Code{}, ErrLinkClosed
	}
}

func (l *SerialLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.rw.Close()
	})
	return err
}

func parseCode(s string) (Code, error) {
	fields := strings.Fields(s)
	if len(fields) != 3 {
		return Code{}, fmt.Errorf("want 3 fields, got %d", len(fields))
	}
	pulse, err := strconv.Atoi(fields[1])
	if err != nil {
		return Code{}, fmt.Errorf("pulse length: %w", err)
	}
	protocol, err := strconv.Atoi(fields[2])
	if err != nil {
		return Code{}, fmt.Errorf("protocol: %w", err)
	}
	return Code{Value: fields[0], PulseLength: pulse, Protocol: protocol}, nil
}
