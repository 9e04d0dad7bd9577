// Command framegen builds a Retranslator frame and either prints it as hex
// or sends it to a server and waits for the ack.
package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"retranslator-svr/internal/codec/retranslator"
)

type options struct {
	id        string
	unix      int64
	noPosInfo bool
	lat, lon  float64
	alt       float64
	speed     int16
	course    int16
	sats      uint8
	strs      []string
	ints      []string
	doubles   []string
	longs     []string
	send      string
	timeout   time.Duration
}

func main() {
	var o options
	fs := pflag.NewFlagSet("framegen", pflag.ExitOnError)
	fs.StringVar(&o.id, "id", "353173064251404", "device id")
	fs.Int64Var(&o.unix, "time", time.Now().Unix(), "frame timestamp, unix seconds")
	fs.BoolVar(&o.noPosInfo, "no-posinfo", false, "omit the posinfo block")
	fs.Float64Var(&o.lat, "lat", 0, "latitude")
	fs.Float64Var(&o.lon, "lon", 0, "longitude")
	fs.Float64Var(&o.alt, "alt", 0, "altitude")
	fs.Int16Var(&o.speed, "speed", 0, "speed")
	fs.Int16Var(&o.course, "course", 0, "course")
	fs.Uint8Var(&o.sats, "sats", 0, "satellites")
	fs.StringArrayVar(&o.strs, "str", nil, "string field name=value (repeatable)")
	fs.StringArrayVar(&o.ints, "int", nil, "int32 field name=value (repeatable)")
	fs.StringArrayVar(&o.doubles, "double", nil, "double field name=value (repeatable)")
	fs.StringArrayVar(&o.longs, "long", nil, "int64 field name=value (repeatable)")
	fs.StringVar(&o.send, "send", "", "server address; print hex when empty")
	fs.DurationVar(&o.timeout, "timeout", 5*time.Second, "ack wait timeout")
	_ = fs.Parse(os.Args[1:])

	if err := run(o, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "framegen:", err)
		os.Exit(1)
	}
}

func run(o options, out io.Writer) error {
	frame, err := buildFrame(o)
	if err != nil {
		return err
	}
	if o.send == "" {
		_, err := fmt.Fprintln(out, hex.EncodeToString(frame))
		return err
	}
	ack, err := sendFrame(o.send, frame, o.timeout)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "sent %d bytes, ack 0x%02x\n", len(frame), ack)
	return err
}

func buildFrame(o options) ([]byte, error) {
	b := retranslator.NewFrameBuilder(o.id).Time(time.Unix(o.unix, 0))
	if !o.noPosInfo {
		b.PosInfo(o.lon, o.lat, o.alt, o.speed, o.course, o.sats)
	}
	for _, kv := range o.strs {
		name, val, err := splitField(kv)
		if err != nil {
			return nil, err
		}
		b.String(name, val)
	}
	for _, kv := range o.ints {
		name, val, err := splitField(kv)
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseInt(val, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("int field %s: %w", name, err)
		}
		b.Int32(name, int32(n))
	}
	for _, kv := range o.doubles {
		name, val, err := splitField(kv)
		if err != nil {
			return nil, err
		}
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, fmt.Errorf("double field %s: %w", name, err)
		}
		b.Float64(name, f)
	}
	for _, kv := range o.longs {
		name, val, err := splitField(kv)
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("long field %s: %w", name, err)
		}
		b.Int64(name, n)
	}
	return b.Bytes(), nil
}

func splitField(kv string) (string, string, error) {
	name, val, ok := strings.Cut(kv, "=")
	if !ok || name == "" {
		return "", "", fmt.Errorf("field %q: want name=value", kv)
	}
	if name == "posinfo" {
		return "", "", fmt.Errorf("field name posinfo is reserved")
	}
	return name, val, nil
}

func sendFrame(addr string, frame []byte, timeout time.Duration) (byte, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(timeout))
	if _, err := conn.Write(frame); err != nil {
		return 0, err
	}
	var ack [1]byte
	if _, err := io.ReadFull(conn, ack[:]); err != nil {
		return 0, fmt.Errorf("waiting for ack: %w", err)
	}
	return ack[0], nil
}
