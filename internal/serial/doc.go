// Package serial is the transport between gatelog and the gate controller:
// a Linux serial port opened in raw 8N1 mode and read one delimited line at
// a time.
//
// Reads never block longer than Config.ReadTimeout. ReadLine returns
// ErrNoData when the timeout expires without a complete line, so the caller
// can check for shutdown between polls. Lines that are not valid UTF-8 come
// back as ErrDecode and can be skipped without closing the port.
//
//	port, err := serial.Open(ctx, serial.Config{
//	    Device:      "/dev/ttyUSB0",
//	    BaudRate:    9600,
//	    ReadTimeout: time.Second,
//	    Settle:      2 * time.Second,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer port.Close()
//
//	for {
//	    line, err := port.ReadLine()
//	    switch {
//	    case errors.Is(err, serial.ErrNoData), errors.Is(err, serial.ErrDecode):
//	        continue
//	    case err != nil:
//	        return err
//	    }
//	    fmt.Println(line)
//	}
//
// This package does not support Windows.
package serial
