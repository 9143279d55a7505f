package obsmodel

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/banshee-data/bleloc/internal/geo"
)

// blobMagic identifies the compact binary encoding used for
// ObservationModelParameters (spec.md §6). This is a small
// purpose-built format (length-prefixed float64 arrays), not a
// general-purpose serialization library: the blob is opaque to every
// caller except this package, so there is no benefit to pulling in a
// schema-based encoder (protobuf/gob) for a single internal artifact;
// see DESIGN.md.
const blobMagic uint32 = 0x47504c44 // "GPLD"

// EncodeParameters serializes p into the compact binary format stored
// as the model bundle's ObservationModelParameters field.
func EncodeParameters(p *Parameters) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, blobMagic); err != nil {
		return nil, err
	}
	writeHeader(&buf, p)

	ids := make([]uint32, 0, len(p.PerBeacon))
	for id := range p.PerBeacon {
		ids = append(ids, id)
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(ids))); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := binary.Write(&buf, binary.LittleEndian, id); err != nil {
			return nil, err
		}
		if err := writeBeaconModel(&buf, p.PerBeacon[id]); err != nil {
			return nil, err
		}
	}

	hasGlobal := p.Global != nil
	if err := binary.Write(&buf, binary.LittleEndian, hasGlobal); err != nil {
		return nil, err
	}
	if hasGlobal {
		if err := writeBeaconModel(&buf, p.Global); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func writeHeader(buf *bytes.Buffer, p *Parameters) {
	binary.Write(buf, binary.LittleEndian, int32(p.NormFunc))
	binary.Write(buf, binary.LittleEndian, p.StudentTDegreesOfFreedom)
	binary.Write(buf, binary.LittleEndian, int32(p.UnknownPolicy))
	binary.Write(buf, binary.LittleEndian, p.StdevRssiForUnknownBeacon)
	binary.Write(buf, binary.LittleEndian, p.CoeffDiffFloorStdev)
	binary.Write(buf, binary.LittleEndian, p.DistanceOffset)
}

func writeBeaconModel(buf *bytes.Buffer, m *PerBeaconModel) error {
	binary.Write(buf, binary.LittleEndian, m.Theta)
	binary.Write(buf, binary.LittleEndian, m.Sigma)

	isMatern := false
	variance, length := 0.0, 0.0
	switch k := m.Kernel.(type) {
	case Matern32:
		isMatern = true
		variance, length = k.Variance, k.LengthScale
	case SquaredExponential:
		variance, length = k.Variance, k.LengthScale
	}
	binary.Write(buf, binary.LittleEndian, isMatern)
	binary.Write(buf, binary.LittleEndian, variance)
	binary.Write(buf, binary.LittleEndian, length)

	n := uint32(len(m.Samples))
	if err := binary.Write(buf, binary.LittleEndian, n); err != nil {
		return err
	}
	for i := 0; i < int(n); i++ {
		binary.Write(buf, binary.LittleEndian, m.Samples[i].X)
		binary.Write(buf, binary.LittleEndian, m.Samples[i].Y)
		binary.Write(buf, binary.LittleEndian, m.Samples[i].Z)
		binary.Write(buf, binary.LittleEndian, m.Samples[i].Floor)
		binary.Write(buf, binary.LittleEndian, m.Alpha[i])
	}
	return nil
}

// DecodeParameters parses the compact binary ObservationModelParameters
// blob written by EncodeParameters.
func DecodeParameters(data []byte) (*Parameters, error) {
	buf := bytes.NewReader(data)
	var magic uint32
	if err := binary.Read(buf, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("obsmodel: read magic: %w", err)
	}
	if magic != blobMagic {
		return nil, fmt.Errorf("obsmodel: bad magic %#x", magic)
	}

	p := &Parameters{PerBeacon: make(map[uint32]*PerBeaconModel)}
	var normFunc, unknownPolicy int32
	binary.Read(buf, binary.LittleEndian, &normFunc)
	binary.Read(buf, binary.LittleEndian, &p.StudentTDegreesOfFreedom)
	binary.Read(buf, binary.LittleEndian, &unknownPolicy)
	binary.Read(buf, binary.LittleEndian, &p.StdevRssiForUnknownBeacon)
	binary.Read(buf, binary.LittleEndian, &p.CoeffDiffFloorStdev)
	binary.Read(buf, binary.LittleEndian, &p.DistanceOffset)
	p.NormFunc = NormFuncKind(normFunc)
	p.UnknownPolicy = UnknownBeaconPolicy(unknownPolicy)

	var count uint32
	if err := binary.Read(buf, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("obsmodel: read beacon count: %w", err)
	}
	for i := uint32(0); i < count; i++ {
		var id uint32
		if err := binary.Read(buf, binary.LittleEndian, &id); err != nil {
			return nil, fmt.Errorf("obsmodel: read beacon id: %w", err)
		}
		m, err := readBeaconModel(buf)
		if err != nil {
			return nil, err
		}
		p.PerBeacon[id] = m
	}

	var hasGlobal bool
	if err := binary.Read(buf, binary.LittleEndian, &hasGlobal); err != nil {
		return nil, fmt.Errorf("obsmodel: read global flag: %w", err)
	}
	if hasGlobal {
		m, err := readBeaconModel(buf)
		if err != nil {
			return nil, err
		}
		p.Global = m
	}
	return p, nil
}

func readBeaconModel(buf *bytes.Reader) (*PerBeaconModel, error) {
	m := &PerBeaconModel{}
	if err := binary.Read(buf, binary.LittleEndian, &m.Theta); err != nil {
		return nil, fmt.Errorf("obsmodel: read theta: %w", err)
	}
	if err := binary.Read(buf, binary.LittleEndian, &m.Sigma); err != nil {
		return nil, fmt.Errorf("obsmodel: read sigma: %w", err)
	}
	var isMatern bool
	var variance, length float64
	binary.Read(buf, binary.LittleEndian, &isMatern)
	binary.Read(buf, binary.LittleEndian, &variance)
	binary.Read(buf, binary.LittleEndian, &length)
	if isMatern {
		m.Kernel = Matern32{Variance: variance, LengthScale: length}
	} else {
		m.Kernel = SquaredExponential{Variance: variance, LengthScale: length}
	}

	var n uint32
	if err := binary.Read(buf, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("obsmodel: read sample count: %w", err)
	}
	m.Samples = make([]geo.Location, n)
	m.Alpha = make([]float64, n)
	for i := 0; i < int(n); i++ {
		binary.Read(buf, binary.LittleEndian, &m.Samples[i].X)
		binary.Read(buf, binary.LittleEndian, &m.Samples[i].Y)
		binary.Read(buf, binary.LittleEndian, &m.Samples[i].Z)
		binary.Read(buf, binary.LittleEndian, &m.Samples[i].Floor)
		binary.Read(buf, binary.LittleEndian, &m.Alpha[i])
	}
	return m, nil
}
