// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package volumes

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// NIfTI-1 single file (".nii", ".nii.gz") support.

const (
	niftiHeaderSize = 348
	niftiVoxOffset  = 352 // Header + 4 bytes of (empty) extension flags.
)

// NIfTI-1 datatype codes.
const (
	niftiUint8   = 2
	niftiInt16   = 4
	niftiInt32   = 8
	niftiFloat32 = 16
	niftiFloat64 = 64
	niftiInt8    = 256
	niftiUint16  = 512
	niftiUint32  = 768
)

// niftiHeader holds the fields of the NIfTI-1 header that are used.
type niftiHeader struct {
	order            binary.ByteOrder
	dim              [8]int
	datatype, bitpix int
	pixdim           [8]float64
	voxOffset        int
	sclSlope         float64
	sclInter         float64
	qformCode        int
	sformCode        int
	quatern          [3]float64
	qoffset          [3]float64
	srow             [3][4]float64
}

// isNIfTI returns whether the path has a NIfTI extension.
func isNIfTI(path string) bool {
	return strings.HasSuffix(path, ".nii") || strings.HasSuffix(path, ".nii.gz")
}

// openMaybeGzip opens the file, decompressing it on the fly if it ends with ".gz".
func openMaybeGzip(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %q", path)
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	gz, err := gzip.NewReader(bufio.NewReader(f))
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "failed to read gzip stream of %q", path)
	}
	return &gzipReadCloser{Reader: gz, file: f}, nil
}

type gzipReadCloser struct {
	*gzip.Reader
	file *os.File
}

// Close both the gzip stream and the underlying file.
func (g *gzipReadCloser) Close() error {
	err := g.Reader.Close()
	if err2 := g.file.Close(); err == nil {
		err = err2
	}
	return err
}

// parseNIfTIHeader parses the first 348 bytes of a NIfTI-1 file.
func parseNIfTIHeader(buf []byte) (*niftiHeader, error) {
	if len(buf) < niftiHeaderSize {
		return nil, errors.Errorf("NIfTI header truncated: %d bytes", len(buf))
	}
	h := &niftiHeader{order: binary.LittleEndian}
	if binary.LittleEndian.Uint32(buf[0:4]) != niftiHeaderSize {
		if binary.BigEndian.Uint32(buf[0:4]) != niftiHeaderSize {
			return nil, errors.Errorf("not a NIfTI-1 file: sizeof_hdr is not %d", niftiHeaderSize)
		}
		h.order = binary.BigEndian
	}
	magic := string(buf[344:347])
	if magic != "n+1" {
		return nil, errors.Errorf("unsupported NIfTI magic %q, only single file NIfTI-1 (\"n+1\") is supported", magic)
	}
	i16 := func(off int) int { return int(int16(h.order.Uint16(buf[off:]))) }
	f32 := func(off int) float64 { return float64(math.Float32frombits(h.order.Uint32(buf[off:]))) }
	for ii := range 8 {
		h.dim[ii] = i16(40 + 2*ii)
		h.pixdim[ii] = f32(76 + 4*ii)
	}
	h.datatype = i16(70)
	h.bitpix = i16(72)
	h.voxOffset = int(f32(108))
	h.sclSlope = f32(112)
	h.sclInter = f32(116)
	h.qformCode = i16(252)
	h.sformCode = i16(254)
	for ii := range 3 {
		h.quatern[ii] = f32(256 + 4*ii)
		h.qoffset[ii] = f32(268 + 4*ii)
		for jj := range 4 {
			h.srow[ii][jj] = f32(280 + 16*ii + 4*jj)
		}
	}
	if h.dim[0] < 1 || h.dim[0] > 7 {
		return nil, errors.Errorf("invalid NIfTI number of dimensions %d", h.dim[0])
	}
	for ii := 1; ii <= h.dim[0]; ii++ {
		if h.dim[ii] < 1 {
			return nil, errors.Errorf("invalid (empty) NIfTI dimension %d: %v", ii, h.dim[1:h.dim[0]+1])
		}
	}
	if h.voxOffset < niftiVoxOffset {
		h.voxOffset = niftiVoxOffset
	}
	return h, nil
}

// shape returns the spatial dims and channels described by the header.
//
// Spatial dims are dim[1..3]; trailing singleton spatial axes beyond the second are dropped (2D images
// are stored with dim[3]=1). Every axis after the third is folded into the channels.
func (h *niftiHeader) shape() (dims []int, channels int) {
	numSpatial := min(h.dim[0], 3)
	dims = make([]int, numSpatial)
	for ii := range numSpatial {
		dims[ii] = h.dim[ii+1]
	}
	for len(dims) > 2 && dims[len(dims)-1] == 1 {
		dims = dims[:len(dims)-1]
	}
	channels = 1
	for ii := 4; ii <= h.dim[0]; ii++ {
		channels *= h.dim[ii]
	}
	return
}

// affine returns the voxel-to-world transform: sform if set, else qform, else scaling by pixdim.
func (h *niftiHeader) affine() *mat.Dense {
	aff := Identity()
	switch {
	case h.sformCode > 0:
		for row := range 3 {
			for col := range 4 {
				aff.Set(row, col, h.srow[row][col])
			}
		}
	case h.qformCode > 0:
		b, c, d := h.quatern[0], h.quatern[1], h.quatern[2]
		a := math.Sqrt(max(0, 1-(b*b+c*c+d*d)))
		rot := [3][3]float64{
			{a*a + b*b - c*c - d*d, 2 * (b*c - a*d), 2 * (b*d + a*c)},
			{2 * (b*c + a*d), a*a + c*c - b*b - d*d, 2 * (c*d - a*b)},
			{2 * (b*d - a*c), 2 * (c*d + a*b), a*a + d*d - b*b - c*c},
		}
		qfac := h.pixdim[0]
		if qfac == 0 {
			qfac = 1
		}
		scale := [3]float64{h.pixdim[1], h.pixdim[2], qfac * h.pixdim[3]}
		for row := range 3 {
			for col := range 3 {
				aff.Set(row, col, rot[row][col]*scale[col])
			}
			aff.Set(row, 3, h.qoffset[row])
		}
	default:
		for ii := range 3 {
			if h.pixdim[ii+1] > 0 {
				aff.Set(ii, ii, h.pixdim[ii+1])
			}
		}
	}
	return aff
}

// readNIfTI reads a NIfTI-1 file into a volume of type T.
//
// Intensity scaling (scl_slope, scl_inter) is applied. When T is an integer type, values are rounded.
func readNIfTI[T Number](path string) (*Volume[T], error) {
	r, err := openMaybeGzip(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	contents, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %q", path)
	}
	h, err := parseNIfTIHeader(contents)
	if err != nil {
		return nil, errors.WithMessagef(err, "while reading %q", path)
	}
	dims, channels := h.shape()
	v := &Volume[T]{Dims: dims, Channels: channels, Affine: h.affine()}
	n := v.Size()
	raw := contents[min(h.voxOffset, len(contents)):]
	fortranData, err := decodeRaw[T](raw, h.order, h.datatype, n, h.sclSlope, h.sclInter)
	if err != nil {
		return nil, errors.WithMessagef(err, "while reading voxels of %q", path)
	}
	v.Data = fortranToC(fortranData, dims, channels)
	return v, nil
}

// readNIfTIHeader reads only the header of the file: dims, channels and affine.
func readNIfTIHeader(path string) (dims []int, channels int, affine *mat.Dense, err error) {
	r, err := openMaybeGzip(path)
	if err != nil {
		return
	}
	defer func() { _ = r.Close() }()
	buf := make([]byte, niftiHeaderSize)
	if _, err = io.ReadFull(r, buf); err != nil {
		err = errors.Wrapf(err, "failed to read NIfTI header of %q", path)
		return
	}
	h, err := parseNIfTIHeader(buf)
	if err != nil {
		err = errors.WithMessagef(err, "while reading %q", path)
		return
	}
	dims, channels = h.shape()
	affine = h.affine()
	return
}

// decodeRaw converts n values of the given NIfTI datatype to T, applying slope and intercept.
func decodeRaw[T Number](raw []byte, order binary.ByteOrder, datatype, n int, slope, inter float64) ([]T, error) {
	var size int
	var read func(b []byte) float64
	switch datatype {
	case niftiUint8:
		size, read = 1, func(b []byte) float64 { return float64(b[0]) }
	case niftiInt8:
		size, read = 1, func(b []byte) float64 { return float64(int8(b[0])) }
	case niftiInt16:
		size, read = 2, func(b []byte) float64 { return float64(int16(order.Uint16(b))) }
	case niftiUint16:
		size, read = 2, func(b []byte) float64 { return float64(order.Uint16(b)) }
	case niftiInt32:
		size, read = 4, func(b []byte) float64 { return float64(int32(order.Uint32(b))) }
	case niftiUint32:
		size, read = 4, func(b []byte) float64 { return float64(order.Uint32(b)) }
	case niftiFloat32:
		size, read = 4, func(b []byte) float64 { return float64(math.Float32frombits(order.Uint32(b))) }
	case niftiFloat64:
		size, read = 8, func(b []byte) float64 { return math.Float64frombits(order.Uint64(b)) }
	default:
		return nil, errors.Errorf("unsupported NIfTI datatype %d", datatype)
	}
	if len(raw) < n*size {
		return nil, errors.Errorf("voxel data truncated: %d bytes for %d values of %d bytes", len(raw), n, size)
	}
	scaled := slope != 0 && (slope != 1 || inter != 0)
	integral := isIntegral[T]()
	out := make([]T, n)
	for ii := range out {
		value := read(raw[ii*size:])
		if scaled {
			value = value*slope + inter
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return nil, errors.Errorf("voxel %d has non-finite value %g", ii, value)
		}
		if integral {
			value = math.Round(value)
		}
		out[ii] = T(value)
	}
	return out, nil
}

// isIntegral returns whether T is an integer type.
func isIntegral[T Number]() bool {
	half := 0.5
	return T(half) == 0
}

// fortranToC reorders data stored with the first axis moving fastest (and channels last) into row-major
// order with channels interleaved.
func fortranToC[T Number](src []T, dims []int, channels int) []T {
	full := append(append([]int{}, dims...), channels)
	cStrides := Strides(full)
	dst := make([]T, len(src))
	pos := make([]int, len(full))
	cIdx := 0
	for _, value := range src {
		dst[cIdx] = value
		// Increment with axis 0 moving fastest, tracking the C-order index.
		for axis := range full {
			pos[axis]++
			cIdx += cStrides[axis]
			if pos[axis] < full[axis] {
				break
			}
			cIdx -= pos[axis] * cStrides[axis]
			pos[axis] = 0
		}
	}
	return dst
}

// cToFortran is the inverse of fortranToC.
func cToFortran[T Number](src []T, dims []int, channels int) []T {
	full := append(append([]int{}, dims...), channels)
	cStrides := Strides(full)
	dst := make([]T, len(src))
	pos := make([]int, len(full))
	cIdx := 0
	for ii := range dst {
		dst[ii] = src[cIdx]
		for axis := range full {
			pos[axis]++
			cIdx += cStrides[axis]
			if pos[axis] < full[axis] {
				break
			}
			cIdx -= pos[axis] * cStrides[axis]
			pos[axis] = 0
		}
	}
	return dst
}

// writeNIfTI writes the volume as a NIfTI-1 file, gzip compressed if path ends with ".gz".
//
// Floating point volumes are written as float32, integer volumes as int32.
func writeNIfTI[T Number](path string, v *Volume[T]) (err error) {
	if v.NumDims() < 1 || v.NumDims() > 3 {
		return errors.Errorf("can only write volumes with 1 to 3 spatial dimensions to NIfTI, got %v", v.Dims)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", path)
	}
	defer func() {
		if err2 := f.Close(); err == nil && err2 != nil {
			err = errors.Wrapf(err2, "failed to close %q", path)
		}
	}()
	bw := bufio.NewWriter(f)
	var w io.Writer = bw
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(bw)
		w = gz
	}

	integral := isIntegral[T]()
	header := make([]byte, niftiVoxOffset)
	le := binary.LittleEndian
	put16 := func(off, value int) { le.PutUint16(header[off:], uint16(int16(value))) }
	putF := func(off int, value float64) { le.PutUint32(header[off:], math.Float32bits(float32(value))) }
	le.PutUint32(header[0:], niftiHeaderSize)
	dim := [8]int{0, 1, 1, 1, 1, 1, 1, 1}
	for ii, d := range v.Dims {
		dim[ii+1] = d
	}
	dim[0] = 3
	if v.NumDims() < 3 {
		dim[0] = v.NumDims()
	}
	if v.Channels > 1 {
		dim[0] = 4
		dim[4] = v.Channels
	}
	for ii, d := range dim {
		put16(40+2*ii, d)
	}
	if integral {
		put16(70, niftiInt32)
	} else {
		put16(70, niftiFloat32)
	}
	put16(72, 32)
	affine := v.Affine
	if affine == nil {
		affine = Identity()
	}
	putF(76, 1) // qfac
	for ii := range 3 {
		norm := math.Sqrt(affine.At(0, ii)*affine.At(0, ii) + affine.At(1, ii)*affine.At(1, ii) + affine.At(2, ii)*affine.At(2, ii))
		putF(80+4*ii, norm)
	}
	putF(108, niftiVoxOffset)
	putF(112, 1) // scl_slope
	put16(254, 1) // sform_code: scanner anatomical.
	for row := range 3 {
		for col := range 4 {
			putF(280+16*row+4*col, affine.At(row, col))
		}
	}
	copy(header[344:], "n+1\x00")
	if _, err = w.Write(header); err != nil {
		return errors.Wrapf(err, "failed to write header to %q", path)
	}

	data := cToFortran(v.Data, v.Dims, v.Channels)
	buf := make([]byte, 4*len(data))
	for ii, value := range data {
		if integral {
			le.PutUint32(buf[4*ii:], uint32(int32(value)))
		} else {
			le.PutUint32(buf[4*ii:], math.Float32bits(float32(value)))
		}
	}
	if _, err = w.Write(buf); err != nil {
		return errors.Wrapf(err, "failed to write voxels to %q", path)
	}
	if gz != nil {
		if err = gz.Close(); err != nil {
			return errors.Wrapf(err, "failed to finish gzip stream of %q", path)
		}
	}
	if err = bw.Flush(); err != nil {
		return errors.Wrapf(err, "failed to write %q", path)
	}
	return nil
}
