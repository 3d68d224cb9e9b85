package govee

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"
)

// ingressTimeout bounds session creation for one bus message.
const ingressTimeout = 5 * time.Second

// Ingress applies decoded commands to sessions, creating sessions on first
// reference. Fields equal to the session's current value are skipped so
// no-op commands never mark a field dirty.
//
// Thread Safety: All methods are safe for concurrent use.
type Ingress struct {
	registry *Registry
	topics   Topics
	logger   Logger

	received atomic.Uint64
	rejected atomic.Uint64
}

// NewIngress creates an Ingress over registry. logger may be nil.
func NewIngress(registry *Registry, topics Topics, logger Logger) *Ingress {
	return &Ingress{
		registry: registry,
		topics:   topics,
		logger:   logger,
	}
}

// HandleMessage decodes a bus message from a command topic and applies it.
func (in *Ingress) HandleMessage(topic string, payload []byte) error {
	in.received.Add(1)

	deviceID, err := in.topics.ParseCommand(topic)
	if err != nil {
		in.reject("ignoring message", err, "topic", topic)
		return err
	}

	patch, err := ParsePatch(payload)
	if err != nil {
		in.reject("ignoring command", err, "device", deviceID)
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), ingressTimeout)
	defer cancel()

	if err := in.Apply(ctx, deviceID, patch); err != nil {
		in.reject("command partially rejected", err, "device", deviceID)
		return err
	}
	return nil
}

// Apply looks up or creates the session for deviceID and calls the setter of
// every present field whose value differs from the current one. Invalid
// fields are rejected individually; valid fields in the same patch still apply.
// When both color and color_temp are present, color_temp wins.
func (in *Ingress) Apply(ctx context.Context, deviceID string, p Patch) error {
	s, err := in.registry.GetOrCreate(ctx, deviceID, "")
	if err != nil {
		return err
	}
	return ApplyPatch(s, p)
}

// ApplyPatch applies p to one session with no-op suppression.
func ApplyPatch(s *Session, p Patch) error {
	var errs []error
	cur := s.State()

	if p.State != nil {
		on, err := parsePower(*p.State)
		switch {
		case err != nil:
			errs = append(errs, err)
		case on != cur.Power:
			errs = append(errs, s.SetPower(on))
		}
	}

	if p.Brightness != nil {
		v := *p.Brightness
		switch {
		case math.IsNaN(v) || v < 0 || v > 255:
			errs = append(errs, fmt.Errorf("%w: brightness %v not in [0,255]", ErrInvalidArgument, v))
		case math.Round(v) != math.Round(cur.Brightness*255):
			errs = append(errs, s.SetBrightness(v/255))
		}
	}

	if c := p.Color; c != nil {
		same := cur.Color.Mode == ColorModeRGB &&
			c.R == int(cur.Color.R) && c.G == int(cur.Color.G) && c.B == int(cur.Color.B)
		if !same {
			if err := s.SetColorRGB(c.R, c.G, c.B); err != nil {
				errs = append(errs, err)
			} else {
				cur = s.State()
			}
		}
	}

	if p.ColorTemp != nil {
		mired := *p.ColorTemp
		same := mired > 0 && cur.Color.Mode == ColorModeTemperature && cur.Color.Kelvin == MiredToKelvin(mired)
		if !same {
			errs = append(errs, s.SetColorTemperature(mired))
		}
	}

	if p.Segment != nil && !sameSegment(*p.Segment, cur.Color.Segment) {
		errs = append(errs, s.SetSegment(*p.Segment))
	}

	return errors.Join(errs...)
}

// sameSegment reports whether a and b address the same segments; -1 and 0
// both mean all of them.
func sameSegment(a, b int) bool {
	all := func(v int) bool { return v == 0 || v == -1 }
	return a == b || (all(a) && all(b))
}

func parsePower(v string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case PowerOn:
		return true, nil
	case PowerOff:
		return false, nil
	default:
		return false, fmt.Errorf("%w: state %q", ErrInvalidArgument, v)
	}
}

// IngressStats reports message counters.
type IngressStats struct {
	Received uint64 `json:"received"`
	Rejected uint64 `json:"rejected"`
}

// Stats returns the message counters.
func (in *Ingress) Stats() IngressStats {
	return IngressStats{
		Received: in.received.Load(),
		Rejected: in.rejected.Load(),
	}
}

func (in *Ingress) reject(msg string, err error, keysAndValues ...any) {
	in.rejected.Add(1)
	if in.logger != nil {
		in.logger.Warn(msg, append(keysAndValues, "error", err)...)
	}
}
