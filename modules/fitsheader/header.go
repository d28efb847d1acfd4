package fitsheader

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

const (
	cardSize  = 80
	blockSize = 2880
)

// Header holds the keyword values of one HDU header.
type Header struct {
	values map[string]cty.Value
	order  []string
}

// Get returns the value of keyword.
func (h *Header) Get(keyword string) (cty.Value, bool) {
	v, ok := h.values[strings.ToUpper(keyword)]
	return v, ok
}

// Keywords returns the keywords in file order.
func (h *Header) Keywords() []string { return append([]string(nil), h.order...) }

// ReadFile reads the header of HDU hdu of a FITS file.
func ReadFile(path string, hdu int) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open FITS file: %w", err)
	}
	defer f.Close()

	for i := 0; ; i++ {
		h, err := readHeader(f)
		if err != nil {
			return nil, fmt.Errorf("%s hdu %d: %w", path, i, err)
		}
		if i == hdu {
			return h, nil
		}
		size, err := h.dataSize()
		if err != nil {
			return nil, fmt.Errorf("%s hdu %d: %w", path, i, err)
		}
		if _, err := f.Seek(size, io.SeekCurrent); err != nil {
			return nil, err
		}
	}
}

func readHeader(r io.Reader) (*Header, error) {
	h := &Header{values: make(map[string]cty.Value)}
	block := make([]byte, blockSize)
	for {
		if _, err := io.ReadFull(r, block); err != nil {
			if err == io.EOF {
				return nil, fmt.Errorf("no such HDU")
			}
			return nil, fmt.Errorf("truncated header: %w", err)
		}
		for off := 0; off < blockSize; off += cardSize {
			card := string(block[off : off+cardSize])
			key := strings.TrimSpace(card[:8])
			if key == "END" {
				return h, nil
			}
			if key == "" || card[8:10] != "= " {
				continue
			}
			v, err := parseValue(card[10:])
			if err != nil {
				return nil, fmt.Errorf("keyword %s: %w", key, err)
			}
			if _, dup := h.values[key]; !dup {
				h.order = append(h.order, key)
			}
			h.values[key] = v
		}
	}
}

func parseValue(s string) (cty.Value, error) {
	s = strings.TrimLeft(s, " ")
	if strings.HasPrefix(s, "'") {
		var b strings.Builder
		for i := 1; i < len(s); i++ {
			if s[i] == '\'' {
				if i+1 < len(s) && s[i+1] == '\'' {
					b.WriteByte('\'')
					i++
					continue
				}
				return cty.StringVal(strings.TrimRight(b.String(), " ")), nil
			}
			b.WriteByte(s[i])
		}
		return cty.NilVal, fmt.Errorf("unterminated string")
	}
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	switch s {
	case "":
		return cty.NullVal(cty.DynamicPseudoType), nil
	case "T":
		return cty.True, nil
	case "F":
		return cty.False, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return cty.NumberIntVal(n), nil
	}
	f, err := strconv.ParseFloat(strings.Replace(s, "D", "E", 1), 64)
	if err != nil {
		return cty.NilVal, fmt.Errorf("cannot parse value %q", s)
	}
	return cty.NumberFloatVal(f), nil
}

// dataSize returns the padded size of the data following the header.
func (h *Header) dataSize() (int64, error) {
	bitpix, err := h.intValue("BITPIX")
	if err != nil {
		return 0, err
	}
	naxis, err := h.intValue("NAXIS")
	if err != nil {
		return 0, err
	}
	if naxis == 0 {
		return 0, nil
	}
	n := int64(1)
	for i := 1; i <= int(naxis); i++ {
		d, err := h.intValue("NAXIS" + strconv.Itoa(i))
		if err != nil {
			return 0, err
		}
		n *= d
	}
	pcount, _ := h.intValue("PCOUNT")
	gcount, err := h.intValue("GCOUNT")
	if err != nil {
		gcount = 1
	}
	size := (abs(bitpix) / 8) * gcount * (pcount + n)
	return (size + blockSize - 1) / blockSize * blockSize, nil
}

func (h *Header) intValue(key string) (int64, error) {
	v, ok := h.values[key]
	if !ok || v.IsNull() || v.Type() != cty.Number {
		return 0, fmt.Errorf("missing integer keyword %s", key)
	}
	n, _ := v.AsBigFloat().Int64()
	return n, nil
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
