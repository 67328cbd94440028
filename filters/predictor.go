package filters

import (
	"fmt"

	"github.com/wudi/pdfgraph/ir/raw"
)

type predictorParams struct {
	predictor int
	colors    int
	bpc       int
	columns   int
}

func readPredictorParams(d *raw.DictObj) predictorParams {
	p := predictorParams{predictor: 1, colors: 1, bpc: 8, columns: 1}
	if v, ok := d.Int("Predictor"); ok {
		p.predictor = int(v)
	}
	if v, ok := d.Int("Colors"); ok && v > 0 {
		p.colors = int(v)
	}
	if v, ok := d.Int("BitsPerComponent"); ok && v > 0 {
		p.bpc = int(v)
	}
	if v, ok := d.Int("Columns"); ok && v > 0 {
		p.columns = int(v)
	}
	return p
}

// applyPredictor undoes the TIFF (2) or PNG (10-15) predictor named by params.
func applyPredictor(data []byte, params *raw.DictObj) ([]byte, error) {
	if params == nil {
		return data, nil
	}
	p := readPredictorParams(params)
	switch {
	case p.predictor <= 1:
		return data, nil
	case p.predictor == 2:
		return tiffPredictor(data, p)
	case p.predictor >= 10:
		return pngPredictor(data, p)
	default:
		return nil, fmt.Errorf("unsupported predictor %d", p.predictor)
	}
}

func (p predictorParams) bytesPerPixel() int {
	bpp := (p.colors*p.bpc + 7) / 8
	if bpp < 1 {
		bpp = 1
	}
	return bpp
}

func (p predictorParams) rowLength() int {
	return (p.colors*p.bpc*p.columns + 7) / 8
}

func pngPredictor(data []byte, p predictorParams) ([]byte, error) {
	rowLen := p.rowLength()
	bpp := p.bytesPerPixel()
	stride := rowLen + 1
	out := make([]byte, 0, len(data)/stride*rowLen)
	prev := make([]byte, rowLen)
	for off := 0; off < len(data); off += stride {
		end := off + stride
		if end > len(data) {
			// short final row: decode what is there
			end = len(data)
		}
		filter := data[off]
		row := make([]byte, rowLen)
		copy(row, data[off+1:end])
		switch filter {
		case 0:
		case 1:
			for i := bpp; i < rowLen; i++ {
				row[i] += row[i-bpp]
			}
		case 2:
			for i := 0; i < rowLen; i++ {
				row[i] += prev[i]
			}
		case 3:
			for i := 0; i < rowLen; i++ {
				var left int
				if i >= bpp {
					left = int(row[i-bpp])
				}
				row[i] += byte((left + int(prev[i])) / 2)
			}
		case 4:
			for i := 0; i < rowLen; i++ {
				var left, upLeft int
				if i >= bpp {
					left = int(row[i-bpp])
					upLeft = int(prev[i-bpp])
				}
				row[i] += paeth(left, int(prev[i]), upLeft)
			}
		default:
			return nil, fmt.Errorf("invalid PNG filter type %d", filter)
		}
		out = append(out, row[:end-off-1]...)
		prev = row
	}
	return out, nil
}

func paeth(a, b, c int) byte {
	p := a + b - c
	pa, pb, pc := abs(p-a), abs(p-b), abs(p-c)
	switch {
	case pa <= pb && pa <= pc:
		return byte(a)
	case pb <= pc:
		return byte(b)
	default:
		return byte(c)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func tiffPredictor(data []byte, p predictorParams) ([]byte, error) {
	if p.bpc != 8 {
		return nil, fmt.Errorf("TIFF predictor with %d bits per component not supported", p.bpc)
	}
	rowLen := p.rowLength()
	out := append([]byte(nil), data...)
	for off := 0; off+rowLen <= len(out); off += rowLen {
		row := out[off : off+rowLen]
		for i := p.colors; i < rowLen; i++ {
			row[i] += row[i-p.colors]
		}
	}
	return out, nil
}
