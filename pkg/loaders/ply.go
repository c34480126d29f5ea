package loaders

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/seung0h/web-3dgs/pkg/splat"
)

// PLYHeader represents the parsed header information from a PLY file
type PLYHeader struct {
	Format      string // "binary_little_endian", "binary_big_endian", or "ascii"
	Version     string // Usually "1.0"
	VertexCount int
	VertexProps []PLYProperty
}

// PLYProperty represents a property definition in the PLY header
type PLYProperty struct {
	Name     string
	Type     string
	IsList   bool
	ListType string // For list properties, the type of the count
	DataType string // For list properties, the type of the data
}

// propertyIndex returns the position of a named vertex property, or -1
func (h *PLYHeader) propertyIndex(name string) int {
	for i, prop := range h.VertexProps {
		if prop.Name == name {
			return i
		}
	}
	return -1
}

// restCount returns how many f_rest_* properties the header declares
func (h *PLYHeader) restCount() int {
	count := 0
	for _, prop := range h.VertexProps {
		if strings.HasPrefix(prop.Name, "f_rest_") {
			count++
		}
	}
	return count
}

// LoadPLY loads a Gaussian splat PLY file (the 3DGS point_cloud.ply layout)
func LoadPLY(filename string) (*splat.Set, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open PLY file: %w", err)
	}
	defer file.Close()

	return ReadPLY(bufio.NewReaderSize(file, 1024*1024))
}

// ReadPLY decodes a Gaussian splat PLY stream
func ReadPLY(reader *bufio.Reader) (*splat.Set, error) {
	header, err := parsePLYHeader(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PLY header: %w", err)
	}

	switch header.Format {
	case "binary_little_endian":
		return readBinaryLittleEndian(reader, header)
	case "binary_big_endian":
		return nil, fmt.Errorf("binary big-endian PLY format not yet implemented")
	case "ascii":
		return nil, fmt.Errorf("ASCII PLY format not yet supported")
	default:
		return nil, fmt.Errorf("unsupported PLY format: %s", header.Format)
	}
}

// parsePLYHeader consumes the header lines, leaving reader at the first data byte
func parsePLYHeader(reader *bufio.Reader) (*PLYHeader, error) {
	header := &PLYHeader{}

	magic, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("error reading header: %w", err)
	}
	if strings.TrimSpace(magic) != "ply" {
		return nil, fmt.Errorf("missing ply magic number")
	}

	var currentElement string
	for {
		raw, err := reader.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("error reading header: %w", err)
		}
		line := strings.TrimSpace(raw)
		if line == "end_header" {
			break
		}

		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}

		switch parts[0] {
		case "format":
			if len(parts) >= 3 {
				header.Format = parts[1]
				header.Version = parts[2]
			}
		case "comment", "obj_info":
			// Ignore comments
		case "element":
			if len(parts) < 3 {
				return nil, fmt.Errorf("invalid element line: %s", line)
			}
			count, err := strconv.Atoi(parts[2])
			if err != nil || count < 0 {
				return nil, fmt.Errorf("invalid element count: %s", parts[2])
			}
			currentElement = parts[1]
			if currentElement == "vertex" {
				header.VertexCount = count
			} else if count > 0 {
				return nil, fmt.Errorf("unexpected element %q in splat file", currentElement)
			}
		case "property":
			prop, err := parsePLYProperty(parts[1:])
			if err != nil {
				return nil, fmt.Errorf("failed to parse property: %w", err)
			}
			if currentElement == "vertex" {
				if prop.IsList {
					return nil, fmt.Errorf("list property %q not supported on splat vertices", prop.Name)
				}
				header.VertexProps = append(header.VertexProps, prop)
			}
		}
	}

	return header, nil
}

// parsePLYProperty parses a property line from the PLY header
func parsePLYProperty(parts []string) (PLYProperty, error) {
	if len(parts) < 2 {
		return PLYProperty{}, fmt.Errorf("invalid property definition")
	}

	prop := PLYProperty{}

	if parts[0] == "list" {
		if len(parts) < 4 {
			return PLYProperty{}, fmt.Errorf("invalid list property definition")
		}
		prop.IsList = true
		prop.ListType = parts[1]
		prop.DataType = parts[2]
		prop.Name = parts[3]
	} else {
		prop.Type = parts[0]
		prop.Name = parts[1]
	}

	return prop, nil
}

// splatLayout maps the 3DGS attribute names to vertex property indices
type splatLayout struct {
	position [3]int
	dc       [3]int
	rest     []int // f_rest_0 .. f_rest_{n-1}
	opacity  int
	scale    [3]int
	rot      [4]int
	degree   int
}

func resolveLayout(header *PLYHeader) (*splatLayout, error) {
	layout := &splatLayout{}
	lookup := func(name string) (int, error) {
		idx := header.propertyIndex(name)
		if idx < 0 {
			return 0, fmt.Errorf("missing vertex property %q", name)
		}
		return idx, nil
	}

	var err error
	for i, name := range []string{"x", "y", "z"} {
		if layout.position[i], err = lookup(name); err != nil {
			return nil, err
		}
	}
	for i := 0; i < 3; i++ {
		if layout.dc[i], err = lookup(fmt.Sprintf("f_dc_%d", i)); err != nil {
			return nil, err
		}
		if layout.scale[i], err = lookup(fmt.Sprintf("scale_%d", i)); err != nil {
			return nil, err
		}
	}
	for i := 0; i < 4; i++ {
		if layout.rot[i], err = lookup(fmt.Sprintf("rot_%d", i)); err != nil {
			return nil, err
		}
	}
	if layout.opacity, err = lookup("opacity"); err != nil {
		return nil, err
	}

	// f_rest holds 3 channels of (degree+1)^2 - 1 coefficients, channel-major
	restCount := header.restCount()
	degree := -1
	for d := 0; d <= splat.MaxSHDegree; d++ {
		if 3*(splat.CoeffsForDegree(d)-1) == restCount {
			degree = d
			break
		}
	}
	if degree < 0 {
		return nil, fmt.Errorf("unsupported number of f_rest properties: %d", restCount)
	}
	layout.degree = degree
	layout.rest = make([]int, restCount)
	for i := range layout.rest {
		if layout.rest[i], err = lookup(fmt.Sprintf("f_rest_%d", i)); err != nil {
			return nil, err
		}
	}

	return layout, nil
}

// readBinaryLittleEndian reads all vertices in one bulk read and decodes them
func readBinaryLittleEndian(reader io.Reader, header *PLYHeader) (*splat.Set, error) {
	layout, err := resolveLayout(header)
	if err != nil {
		return nil, err
	}

	offsets := make([]int, len(header.VertexProps))
	vertexSize := 0
	for i, prop := range header.VertexProps {
		offsets[i] = vertexSize
		size := getTypeSize(prop.Type)
		if size == 0 {
			return nil, fmt.Errorf("unsupported data type %q for property %s", prop.Type, prop.Name)
		}
		vertexSize += size
	}

	if header.VertexCount > math.MaxInt/vertexSize {
		return nil, fmt.Errorf("vertex count %d too large", header.VertexCount)
	}

	// the header count is untrusted; buffer only the bytes actually present
	want := int64(vertexSize * header.VertexCount)
	vertexData, err := io.ReadAll(io.LimitReader(reader, want))
	if err != nil {
		return nil, fmt.Errorf("failed to read vertex data: %w", err)
	}
	if int64(len(vertexData)) < want {
		return nil, fmt.Errorf("failed to read vertex data: %w", io.ErrUnexpectedEOF)
	}

	n := header.VertexCount
	coeffs := splat.CoeffsForDegree(layout.degree)
	restPerChannel := coeffs - 1
	params := splat.Params{
		Positions: make([]mgl64.Vec3, n),
		LogScales: make([][3]float32, n),
		Rotations: make([][4]float32, n),
		Opacities: make([]float32, n),
		SH:        make([][][3]float32, n),
		SHDegree:  layout.degree,
	}

	// one backing array for all SH coefficients
	shBacking := make([][3]float32, n*coeffs)

	for i := 0; i < n; i++ {
		vertex := vertexData[i*vertexSize : (i+1)*vertexSize]
		read := func(prop int) float32 {
			return readScalar(vertex[offsets[prop]:], header.VertexProps[prop].Type)
		}

		params.Positions[i] = mgl64.Vec3{
			float64(read(layout.position[0])),
			float64(read(layout.position[1])),
			float64(read(layout.position[2])),
		}
		for a := 0; a < 3; a++ {
			params.LogScales[i][a] = read(layout.scale[a])
		}
		for a := 0; a < 4; a++ {
			params.Rotations[i][a] = read(layout.rot[a])
		}
		params.Opacities[i] = read(layout.opacity)

		sh := shBacking[i*coeffs : (i+1)*coeffs : (i+1)*coeffs]
		for c := 0; c < 3; c++ {
			sh[0][c] = read(layout.dc[c])
			for k := 0; k < restPerChannel; k++ {
				sh[k+1][c] = read(layout.rest[c*restPerChannel+k])
			}
		}
		params.SH[i] = sh
	}

	return splat.NewSet(params)
}

// readScalar decodes one little-endian value of a PLY scalar type as float32
func readScalar(data []byte, dataType string) float32 {
	switch dataType {
	case "float", "float32":
		return math.Float32frombits(binary.LittleEndian.Uint32(data))
	case "double", "float64":
		return float32(math.Float64frombits(binary.LittleEndian.Uint64(data)))
	case "int", "int32":
		return float32(int32(binary.LittleEndian.Uint32(data)))
	case "uint", "uint32":
		return float32(binary.LittleEndian.Uint32(data))
	case "short", "int16":
		return float32(int16(binary.LittleEndian.Uint16(data)))
	case "ushort", "uint16":
		return float32(binary.LittleEndian.Uint16(data))
	case "char", "int8":
		return float32(int8(data[0]))
	case "uchar", "uint8":
		return float32(data[0])
	default:
		return 0
	}
}

// getTypeSize returns the size in bytes of a PLY data type, 0 if unknown
func getTypeSize(dataType string) int {
	switch dataType {
	case "float", "float32", "int", "int32", "uint", "uint32":
		return 4
	case "double", "float64":
		return 8
	case "short", "int16", "ushort", "uint16":
		return 2
	case "char", "int8", "uchar", "uint8":
		return 1
	default:
		return 0
	}
}
