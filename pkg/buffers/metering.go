package buffers

import (
	"encoding/binary"
	"math"
	"sort"
	"sync"

	"github.com/robotalks/tripcomm/pkg/link"
	"github.com/robotalks/tripcomm/pkg/link/frame"
)

// DefaultMeteringGroups maps real-time buffer ids to their number of
// readings: currents, voltages, powers and energies.
var DefaultMeteringGroups = map[uint16]int{
	0: 8,
	1: 6,
	2: 12,
	3: 8,
}

// WaveformSamples is the number of samples per channel of a capture.
const WaveformSamples = 64

// Metering holds the latest real-time readings per buffer id. Each buffer
// is a little-endian float32 array.
type Metering struct {
	groups  map[uint16][]float32
	sums    map[uint16][]float64
	samples map[uint16]int
	lock    sync.RWMutex
}

// NewMetering creates groups of zeroed readings.
func NewMetering(groups map[uint16]int) *Metering {
	m := &Metering{
		groups:  make(map[uint16][]float32, len(groups)),
		sums:    make(map[uint16][]float64, len(groups)),
		samples: make(map[uint16]int, len(groups)),
	}
	for id, n := range groups {
		m.groups[id] = make([]float32, n)
		m.sums[id] = make([]float64, n)
	}
	return m
}

// IDs returns the buffer ids in ascending order.
func (m *Metering) IDs() []uint16 {
	m.lock.RLock()
	ids := make([]uint16, 0, len(m.groups))
	for id := range m.groups {
		ids = append(ids, id)
	}
	m.lock.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Update replaces the leading readings of a group. Extra values are ignored.
func (m *Metering) Update(id uint16, values ...float32) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	g, ok := m.groups[id]
	if !ok {
		return false
	}
	copy(g, values)
	sums := m.sums[id]
	for n, v := range g {
		sums[n] += float64(v)
	}
	m.samples[id]++
	return true
}

// Averages returns the mean readings of a group since the previous call and
// restarts the averaging period.
func (m *Metering) Averages(id uint16) []float32 {
	m.lock.Lock()
	defer m.lock.Unlock()
	sums, count := m.sums[id], m.samples[id]
	avg := make([]float32, len(sums))
	for n, sum := range sums {
		if count > 0 {
			avg[n] = float32(sum / float64(count))
		}
		sums[n] = 0
	}
	m.samples[id] = 0
	return avg
}

// EncodeValues encodes readings as little-endian float32.
func EncodeValues(values []float32) []byte {
	b := make([]byte, 4*len(values))
	for n, v := range values {
		binary.LittleEndian.PutUint32(b[4*n:], math.Float32bits(v))
	}
	return b
}

// Values returns a copy of the readings of a group.
func (m *Metering) Values(id uint16) []float32 {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return append([]float32(nil), m.groups[id]...)
}

// Register installs a provider per group.
func (m *Metering) Register(reg *link.Registry) {
	for _, id := range m.IDs() {
		reg.Provide(frame.BufTypeRTData, id, &meteringProvider{m: m, id: id})
	}
}

// Waveform synthesizes a capture from the first group: one sine channel
// per reading scaled by its magnitude, as int16 samples.
func (m *Metering) Waveform() ([]byte, error) {
	values := m.Values(0)
	if len(values) > 4 {
		values = values[:4]
	}
	data := make([]byte, 0, len(values)*WaveformSamples*2)
	for ch, v := range values {
		phase := float64(ch) * 2 * math.Pi / 3
		for n := 0; n < WaveformSamples; n++ {
			s := float64(v) * math.Sin(2*math.Pi*float64(n)/WaveformSamples+phase)
			data = binary.LittleEndian.AppendUint16(data, uint16(int16(clamp(s, math.MinInt16, math.MaxInt16))))
		}
	}
	return data, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

type meteringProvider struct {
	m  *Metering
	id uint16
}

func (p *meteringProvider) Len() int {
	p.m.lock.RLock()
	defer p.m.lock.RUnlock()
	return len(p.m.groups[p.id]) * 4
}

func (p *meteringProvider) Fill(b []byte) int {
	p.m.lock.RLock()
	defer p.m.lock.RUnlock()
	n := 0
	for _, v := range p.m.groups[p.id] {
		if n+4 > len(b) {
			break
		}
		binary.LittleEndian.PutUint32(b[n:], math.Float32bits(v))
		n += 4
	}
	return n
}
