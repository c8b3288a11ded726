package raster

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// FireBand is the band name the classification expression assigns.
const FireBand = "fire"

var npyMagic = []byte("\x93NUMPY")

var (
	npyDescrRe   = regexp.MustCompile(`'descr':\s*('[^']*'|\[[^\]]*\])`)
	npyFieldRe   = regexp.MustCompile(`\(\s*'([^']*)'\s*,\s*'([^']*)'\s*\)`)
	npyFortranRe = regexp.MustCompile(`'fortran_order':\s*(True|False)`)
	npyShapeRe   = regexp.MustCompile(`'shape':\s*\(([^)]*)\)`)
)

// npyType is a numeric dtype such as '<f4' or '|u1'.
type npyType struct {
	order binary.ByteOrder
	kind  byte
	size  int
}

func parseNPYType(s string) (npyType, error) {
	t := npyType{order: binary.LittleEndian}
	if s != "" {
		switch s[0] {
		case '<', '|', '=':
			s = s[1:]
		case '>':
			t.order = binary.BigEndian
			s = s[1:]
		}
	}
	if len(s) < 2 {
		return t, fmt.Errorf("unsupported dtype %q", s)
	}
	t.kind = s[0]
	size, err := strconv.Atoi(s[1:])
	if err != nil {
		return t, fmt.Errorf("unsupported dtype %q", s)
	}
	t.size = size

	switch {
	case (t.kind == 'u' || t.kind == 'i') && (size == 1 || size == 2 || size == 4 || size == 8):
	case t.kind == 'b' && size == 1:
	case t.kind == 'f' && (size == 4 || size == 8):
	default:
		return t, fmt.Errorf("unsupported dtype %c%d", t.kind, size)
	}
	return t, nil
}

func (t npyType) value(b []byte) float64 {
	switch t.kind {
	case 'f':
		if t.size == 4 {
			return float64(math.Float32frombits(t.order.Uint32(b)))
		}
		return math.Float64frombits(t.order.Uint64(b))
	case 'i':
		switch t.size {
		case 1:
			return float64(int8(b[0]))
		case 2:
			return float64(int16(t.order.Uint16(b)))
		case 4:
			return float64(int32(t.order.Uint32(b)))
		default:
			return float64(int64(t.order.Uint64(b)))
		}
	default:
		switch t.size {
		case 1:
			return float64(b[0])
		case 2:
			return float64(t.order.Uint16(b))
		case 4:
			return float64(t.order.Uint32(b))
		default:
			return float64(t.order.Uint64(b))
		}
	}
}

// npyHeader is the parsed array description of an NPY stream.
type npyHeader struct {
	dtype   npyType
	offset  int // byte offset of the selected band within a record
	record  int // bytes per pixel across all bands
	rows    int
	cols    int
	fortran bool
}

// DecodeNPYMask reads a two-dimensional NPY array of pixel values, the raw
// format the imagery service returns for a classification. Plain numeric arrays
// and structured arrays with one field per band are accepted; for structured
// arrays the FireBand field is used, or the first field when it is absent.
// A pixel is fire when its value equals FireValue.
func DecodeNPYMask(r io.Reader, g GeoTransform) (*Mask, error) {
	h, err := readNPYHeader(r)
	if err != nil {
		return nil, err
	}

	data := make([]byte, h.rows*h.cols*h.record)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read npy data: %w", err)
	}

	m := NewMask(h.cols, h.rows, g)
	for row := 0; row < h.rows; row++ {
		for col := 0; col < h.cols; col++ {
			i := row*h.cols + col
			if h.fortran {
				i = col*h.rows + row
			}
			start := i*h.record + h.offset
			if h.dtype.value(data[start:start+h.dtype.size]) == FireValue {
				m.Set(col, row, true)
			}
		}
	}
	return m, nil
}

func readNPYHeader(r io.Reader) (npyHeader, error) {
	var h npyHeader

	prefix := make([]byte, len(npyMagic)+2)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return h, fmt.Errorf("read npy magic: %w", err)
	}
	if !bytes.Equal(prefix[:len(npyMagic)], npyMagic) {
		return h, errors.New("not an npy array")
	}

	var headerLen int
	switch major := prefix[len(npyMagic)]; major {
	case 1:
		var n uint16
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return h, fmt.Errorf("read npy header length: %w", err)
		}
		headerLen = int(n)
	case 2, 3:
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return h, fmt.Errorf("read npy header length: %w", err)
		}
		headerLen = int(n)
	default:
		return h, fmt.Errorf("unsupported npy version %d", major)
	}

	raw := make([]byte, headerLen)
	if _, err := io.ReadFull(r, raw); err != nil {
		return h, fmt.Errorf("read npy header: %w", err)
	}
	header := string(raw)

	descr := npyDescrRe.FindStringSubmatch(header)
	if descr == nil {
		return h, errors.New("npy header has no descr")
	}
	if err := h.setDescr(descr[1]); err != nil {
		return h, err
	}

	if f := npyFortranRe.FindStringSubmatch(header); f != nil {
		h.fortran = f[1] == "True"
	}

	shape := npyShapeRe.FindStringSubmatch(header)
	if shape == nil {
		return h, errors.New("npy header has no shape")
	}
	var dims []int
	for _, part := range strings.Split(shape[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return h, fmt.Errorf("npy shape %q: %w", shape[1], err)
		}
		dims = append(dims, n)
	}
	if len(dims) == 3 && dims[2] == 1 {
		dims = dims[:2]
	}
	if len(dims) != 2 {
		return h, fmt.Errorf("npy shape (%s) is not a single-band grid", shape[1])
	}
	h.rows, h.cols = dims[0], dims[1]
	return h, nil
}

func (h *npyHeader) setDescr(descr string) error {
	if strings.HasPrefix(descr, "'") {
		t, err := parseNPYType(strings.Trim(descr, "'"))
		if err != nil {
			return err
		}
		h.dtype, h.record = t, t.size
		return nil
	}

	fields := npyFieldRe.FindAllStringSubmatch(descr, -1)
	if len(fields) == 0 {
		return fmt.Errorf("npy descr %s has no fields", descr)
	}
	selected := false
	for _, f := range fields {
		t, err := parseNPYType(f[2])
		if err != nil {
			return fmt.Errorf("band %s: %w", f[1], err)
		}
		if !selected && (f[1] == FireBand || h.record == 0) {
			h.dtype, h.offset = t, h.record
			selected = f[1] == FireBand
		}
		h.record += t.size
	}
	return nil
}
