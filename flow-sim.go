package tcsim

// flow-sim.go holds the PacketSource, which generates the packets of one flow and
// pushes them through a TrafficControlLayer.  Interarrival times are sampled from
// an exponential (the default) or constant distribution
import (
	"fmt"
	"math"

	"github.com/iti/rngstream"
	"github.com/pkg/errors"
)

// PacketSource offers packets of one 5-tuple to a device through the layer
type PacketSource struct {
	name     string
	layer    *TrafficControlLayer
	dev      NetDevice
	hdr      IPHeader // copied into every packet
	pktSize  int      // bytes
	rate     float64  // packets per second
	priority uint8
	dest     string
	protocol uint16
	active   bool
	stopTime float64 // no arrivals after this time, 0 for none

	// function that computes inter-arrival times.  First argument
	// is U01 random number, second argument is vector of parameters for distribution
	sampleNxtArrival func(float64, []float64) float64

	rngstrm *rngstream.RngStream
	clock   SimClock

	Offered  int // packets handed to the layer
	Accepted int // packets the layer accepted
}

// CreatePacketSource is a constructor.  The protocol offered to the device follows the header version
func CreatePacketSource(name string, layer *TrafficControlLayer, dev NetDevice, hdr IPHeader,
	pktSize int, rate float64, clock SimClock) *PacketSource {
	ps := new(PacketSource)
	ps.name = name
	ps.layer = layer
	ps.dev = dev
	ps.hdr = hdr
	ps.pktSize = pktSize
	ps.rate = rate
	ps.protocol = Ipv4Protocol
	if hdr.Version == 6 {
		ps.protocol = Ipv6Protocol
	}
	ps.dest = hdr.Dst.String()
	ps.clock = clock
	ps.rngstrm = rngstream.New(name)

	// make poisson arrivals the default
	ps.sampleNxtArrival = sampleExpRV
	return ps
}

// SetAttribute sets one source parameter by name
func (ps *PacketSource) SetAttribute(param, value string) error {
	return ps.setParam(param, stringToValueStruct(value))
}

// setParam assigns the source parameter named by paramType
func (ps *PacketSource) setParam(paramType string, value valueStruct) error {
	switch paramType {
	case "rate":
		ps.AdjustRate(value.floatValue)
	case "size":
		if value.intValue < 1 {
			return errors.Errorf("packet source %s size must be positive", ps.name)
		}
		ps.pktSize = value.intValue
	case "priority":
		ps.priority = uint8(value.intValue)
	case "dest":
		ps.dest = value.stringValue
	case "dist":
		return ps.AdjustInterArrivalDist(value.stringValue)
	default:
		return unknownParam(ps, paramType)
	}
	return nil
}

// paramObjName helps PacketSource satisfy paramObj interface
func (ps *PacketSource) paramObjName() string {
	return ps.name
}

// AssignStream gives the source its own named random stream
func (ps *PacketSource) AssignStream(name string) {
	ps.rngstrm = rngstream.New(name)
}

// AdjustRate changes the packet rate.  A source goes quiet at rate zero
func (ps *PacketSource) AdjustRate(rate float64) {
	if rate <= 0.0 {
		ps.active = false
	}
	ps.rate = rate
}

// AdjustInterArrivalDist sets the distribution of the inter-arrivals
func (ps *PacketSource) AdjustInterArrivalDist(dist string) error {
	switch dist {
	case "exponential", "exp", "expon":
		ps.sampleNxtArrival = sampleExpRV
	case "constant", "const":
		ps.sampleNxtArrival = sampleConst
	default:
		return errors.Errorf("packet source %s: unknown interarrival distribution %q", ps.name, dist)
	}
	return nil
}

// Start schedules the first arrival at time start.  Arrivals stop after time stop, or never if stop is 0
func (ps *PacketSource) Start(start, stop float64) {
	if ps.rate <= 0.0 {
		return
	}
	ps.active = true
	ps.stopTime = stop
	delay := math.Max(0.0, start-ps.clock.Now())
	ps.clock.Schedule(delay, ps.arrival)
}

// Stop ends the arrivals
func (ps *PacketSource) Stop() {
	ps.active = false
}

// arrival creates one packet, offers it, and schedules the next arrival
func (ps *PacketSource) arrival() {
	if !ps.active {
		return
	}
	now := ps.clock.Now()
	if ps.stopTime > 0.0 && now > ps.stopTime {
		ps.active = false
		return
	}

	hdr := ps.hdr
	pkt := CreatePacket(ps.pktSize, &hdr)
	pkt.Priority = ps.priority
	item := CreateQueueDiscItem(pkt, ps.dest, ps.protocol)

	ps.Offered += 1
	if ps.layer.Send(ps.dev, item) {
		ps.Accepted += 1
	}

	nxt := roundFloat(ps.sampleNxtArrival(ps.rngstrm.RandU01(), []float64{ps.rate}), rdigits)
	ps.clock.Schedule(nxt, ps.arrival)
}

// String describes the source
func (ps *PacketSource) String() string {
	return fmt.Sprintf("%s: %s:%d -> %s:%d proto %d, %d bytes at %g pkts/sec",
		ps.name, ps.hdr.Src, ps.hdr.SrcPort, ps.hdr.Dst, ps.hdr.DstPort, ps.hdr.Protocol, ps.pktSize, ps.rate)
}

var rdigits uint = 15

// round computed simulation time to avoid non-sensical comparisons
// induced by rounding error
func roundFloat(val float64, precision uint) float64 {
	ratio := math.Pow(10, float64(precision))
	return math.Round(val*ratio) / ratio
}

// expRV returns a sample of a exponentially distributed random number
func expRV(u01, rate float64) float64 {
	return -math.Log(1.0-u01) / rate
}

// sampleExpRV has the function signature expected by PacketSource
// for calling a next interarrival time
func sampleExpRV(u01 float64, params []float64) float64 {
	return expRV(u01, params[0])
}

// sampleConst has the function signature expected by PacketSource
// for calling a next interarrival time, here, a constant
func sampleConst(u01 float64, params []float64) float64 {
	return 1.0 / params[0]
}
