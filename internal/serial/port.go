package serial

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sys/unix"
)

const (
	DefaultDelimiter   = "\n"
	DefaultReadTimeout = time.Second

	// MaxLineLength bounds how many bytes may accumulate without a delimiter
	// before the partial line is thrown away.
	MaxLineLength = 4096
)

var (
	// ErrNoData means no complete line arrived within the read timeout.
	ErrNoData = errors.New("serial: no data")
	// ErrDecode means a complete line was received but was not valid UTF-8.
	// The line has been discarded.
	ErrDecode = errors.New("serial: line is not valid UTF-8")
	// ErrLineTooLong means MaxLineLength bytes arrived without a delimiter.
	// The buffered bytes have been discarded.
	ErrLineTooLong = errors.New("serial: line too long")
	// ErrClosed is returned by ReadLine after Close.
	ErrClosed = errors.New("serial: port closed")
)

// ConnectionError reports that the device could not be opened or configured.
type ConnectionError struct {
	Device string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("serial: cannot open %s: %v", e.Device, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Config holds configuration parameters for opening a serial port.
type Config struct {
	Device      string
	BaudRate    int
	Delimiter   string        // default "\n"
	ReadTimeout time.Duration // default 1s; upper bound for a single ReadLine

	// Settle is how long Open waits after configuring the port before it
	// returns. Boards that reset when the port opens need ~2s.
	Settle time.Duration
}

// Port is an open serial connection. ReadLine is meant to be driven by a
// single goroutine; Close may be called from any goroutine and unblocks a
// pending ReadLine.
type Port struct {
	fd         int
	file       *os.File
	cfg        Config
	delim      []byte
	buf        []byte
	pending    []byte
	discarding bool // inside an over-long line; skip to the next delimiter
	done       chan struct{}
	closeOnce  sync.Once
	pipeR      int // self-pipe read fd
	pipeW      int // self-pipe write fd
}

// Open opens and configures cfg.Device, then waits cfg.Settle. Any failure
// to reach or configure the device is returned as a *ConnectionError. If ctx
// ends during the settle wait the port is closed and ctx.Err() returned.
func Open(ctx context.Context, cfg Config) (*Port, error) {
	if cfg.Delimiter == "" {
		cfg.Delimiter = DefaultDelimiter
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	fail := func(err error) (*Port, error) {
		return nil, &ConnectionError{Device: cfg.Device, Err: err}
	}

	speed, ok := baudToUnix(cfg.BaudRate)
	if !ok {
		return fail(fmt.Errorf("unsupported baud rate %d", cfg.BaudRate))
	}

	fd, err := unix.Open(cfg.Device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return fail(err)
	}

	if err := configure(fd, speed); err != nil {
		_ = unix.Close(fd)
		return fail(err)
	}

	// Blocking again now that config is done; every read is preceded by poll.
	if err := unix.SetNonblock(fd, false); err != nil {
		_ = unix.Close(fd)
		return fail(fmt.Errorf("set blocking: %w", err))
	}

	pipeFds := make([]int, 2)
	if err := unix.Pipe2(pipeFds, unix.O_CLOEXEC); err != nil {
		_ = unix.Close(fd)
		return fail(fmt.Errorf("pipe: %w", err))
	}

	p := &Port{
		fd:    fd,
		file:  os.NewFile(uintptr(fd), cfg.Device),
		cfg:   cfg,
		delim: []byte(cfg.Delimiter),
		buf:   make([]byte, 512),
		done:  make(chan struct{}),
		pipeR: pipeFds[0],
		pipeW: pipeFds[1],
	}

	if cfg.Settle > 0 {
		t := time.NewTimer(cfg.Settle)
		defer t.Stop()
		select {
		case <-ctx.Done():
			_ = p.Close()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	return p, nil
}

func configure(fd int, speed uint32) error {
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("get termios: %w", err)
	}

	// Raw mode, 8N1
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB
	termios.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL

	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= speed
	termios.Ispeed = speed
	termios.Ospeed = speed

	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("set termios: %w", err)
	}
	return nil
}

// Device returns the configured device path.
func (p *Port) Device() string { return p.cfg.Device }

// ReadLine returns the next complete line without its delimiter. It waits at
// most the configured read timeout and returns ErrNoData if no line
// completed in that window. ErrDecode and ErrLineTooLong are per-line
// conditions; the port stays usable. Any other error means the device is gone.
func (p *Port) ReadLine() (string, error) {
	if line, ok, err := p.nextLine(); ok || err != nil {
		return line, err
	}

	select {
	case <-p.done:
		return "", ErrClosed
	default:
	}

	pfd := []unix.PollFd{
		{Fd: int32(p.fd), Events: unix.POLLIN},
		{Fd: int32(p.pipeR), Events: unix.POLLIN},
	}
	n, err := unix.Poll(pfd, int(p.cfg.ReadTimeout/time.Millisecond))
	if errors.Is(err, unix.EINTR) {
		return "", ErrNoData
	}
	if err != nil {
		return "", fmt.Errorf("serial: poll %s: %w", p.cfg.Device, err)
	}
	if n == 0 {
		return "", ErrNoData
	}
	if pfd[1].Revents&unix.POLLIN != 0 {
		return "", ErrClosed
	}

	rev := pfd[0].Revents
	switch {
	case rev&unix.POLLIN != 0:
		n, err := p.file.Read(p.buf)
		if err != nil {
			return "", fmt.Errorf("serial: read %s: %w", p.cfg.Device, err)
		}
		if n == 0 {
			return "", fmt.Errorf("serial: read %s: %w", p.cfg.Device, io.EOF)
		}
		p.pending = append(p.pending, p.buf[:n]...)
	case rev&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0:
		return "", fmt.Errorf("serial: %s hung up: %w", p.cfg.Device, io.ErrUnexpectedEOF)
	}

	if line, ok, err := p.nextLine(); ok || err != nil {
		return line, err
	}
	return "", ErrNoData
}

// nextLine pops one delimited line off the pending buffer. After
// ErrLineTooLong the rest of that line, up to and including its delimiter,
// is discarded rather than returned as a line of its own.
func (p *Port) nextLine() (string, bool, error) {
	if p.discarding {
		idx := bytes.Index(p.pending, p.delim)
		if idx < 0 {
			// Keep a possible delimiter prefix split across reads.
			keep := len(p.delim) - 1
			if keep > len(p.pending) {
				keep = len(p.pending)
			}
			p.pending = append(p.pending[:0], p.pending[len(p.pending)-keep:]...)
			return "", false, nil
		}
		p.pending = append(p.pending[:0], p.pending[idx+len(p.delim):]...)
		p.discarding = false
	}

	idx := bytes.Index(p.pending, p.delim)
	if idx < 0 {
		if len(p.pending) > MaxLineLength {
			p.pending = p.pending[:0]
			p.discarding = true
			return "", false, ErrLineTooLong
		}
		return "", false, nil
	}

	raw := p.pending[:idx]
	valid := utf8.Valid(raw)
	line := string(raw)
	p.pending = append(p.pending[:0], p.pending[idx+len(p.delim):]...)

	if !valid {
		return "", false, fmt.Errorf("%w: %q", ErrDecode, line)
	}
	return line, true, nil
}

// WriteLine writes line followed by the configured delimiter.
func (p *Port) WriteLine(line string) error {
	_, err := p.file.WriteString(line + p.cfg.Delimiter)
	return err
}

// Close releases the port and unblocks any pending ReadLine.
// Safe to call multiple times; subsequent calls are no-ops.
func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		_, _ = unix.Write(p.pipeW, []byte{1})
		err = p.file.Close()
		_ = unix.Close(p.pipeR)
		_ = unix.Close(p.pipeW)
	})
	return err
}

func baudToUnix(baud int) (uint32, bool) {
	switch baud {
	case 1200:
		return unix.B1200, true
	case 2400:
		return unix.B2400, true
	case 4800:
		return unix.B4800, true
	case 9600:
		return unix.B9600, true
	case 19200:
		return unix.B19200, true
	case 38400:
		return unix.B38400, true
	case 57600:
		return unix.B57600, true
	case 115200:
		return unix.B115200, true
	case 230400:
		return unix.B230400, true
	default:
		return 0, false
	}
}
