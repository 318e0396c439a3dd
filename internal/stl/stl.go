// Package stl reads ASCII and binary STL surface meshes and computes
// their centroid.
package stl

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/me/foamrun/pkg/model"
)

// ErrEmptyMesh is returned for a mesh without triangles.
var ErrEmptyMesh = errors.New("mesh has no triangles")

// Triangle is one facet; the stored normal is ignored.
type Triangle [3]model.Vec3

// Mesh is a triangle soup.
type Mesh struct {
	Name      string
	Triangles []Triangle
}

const (
	binaryHeaderSize = 80
	binaryFacetSize  = 50
)

// ReadFile loads an STL file, detecting the encoding from its size and header.
func ReadFile(path string) (*Mesh, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Decode parses STL content. A file whose length matches the facet count
// in a binary header is treated as binary even when it starts with "solid",
// since several exporters write that word into binary headers.
func Decode(data []byte) (*Mesh, error) {
	if isBinary(data) {
		return decodeBinary(data)
	}
	return decodeASCII(bytes.NewReader(data))
}

func isBinary(data []byte) bool {
	if len(data) < binaryHeaderSize+4 {
		return false
	}
	n := binary.LittleEndian.Uint32(data[binaryHeaderSize:])
	if int64(len(data)) == binaryHeaderSize+4+int64(n)*binaryFacetSize {
		return true
	}
	return !bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte("solid"))
}

func decodeBinary(data []byte) (*Mesh, error) {
	if len(data) < binaryHeaderSize+4 {
		return nil, errors.New("binary stl: truncated header")
	}
	n := int(binary.LittleEndian.Uint32(data[binaryHeaderSize:]))
	body := data[binaryHeaderSize+4:]
	if len(body) < n*binaryFacetSize {
		return nil, fmt.Errorf("binary stl: header declares %d facets, data holds %d", n, len(body)/binaryFacetSize)
	}
	m := &Mesh{
		Name:      strings.TrimRight(string(data[:binaryHeaderSize]), "\x00 "),
		Triangles: make([]Triangle, n),
	}
	for i := 0; i < n; i++ {
		rec := body[i*binaryFacetSize:]
		// 12 bytes of normal, then three vertices of three float32.
		for v := 0; v < 3; v++ {
			for c := 0; c < 3; c++ {
				off := 12 + v*12 + c*4
				bits := binary.LittleEndian.Uint32(rec[off:])
				m.Triangles[i][v][c] = float64(math.Float32frombits(bits))
			}
		}
	}
	return m, nil
}

func decodeASCII(r io.Reader) (*Mesh, error) {
	m := &Mesh{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	var tri Triangle
	nv := 0
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch strings.ToLower(fields[0]) {
		case "solid":
			if m.Name == "" && len(fields) > 1 {
				m.Name = strings.Join(fields[1:], " ")
			}
		case "outer":
			nv = 0
		case "vertex":
			if len(fields) != 4 {
				return nil, fmt.Errorf("ascii stl line %d: vertex needs 3 coordinates", line)
			}
			if nv >= 3 {
				return nil, fmt.Errorf("ascii stl line %d: more than 3 vertices in facet", line)
			}
			for c := 0; c < 3; c++ {
				f, err := strconv.ParseFloat(fields[c+1], 64)
				if err != nil {
					return nil, fmt.Errorf("ascii stl line %d: %w", line, err)
				}
				tri[nv][c] = f
			}
			nv++
		case "endloop":
			if nv != 3 {
				return nil, fmt.Errorf("ascii stl line %d: facet has %d vertices", line, nv)
			}
			m.Triangles = append(m.Triangles, tri)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("ascii stl: %w", err)
	}
	return m, nil
}

// Area returns the area of t.
func (t Triangle) Area() float64 {
	ab := sub(t[1], t[0])
	ac := sub(t[2], t[0])
	cx := ab[1]*ac[2] - ab[2]*ac[1]
	cy := ab[2]*ac[0] - ab[0]*ac[2]
	cz := ab[0]*ac[1] - ab[1]*ac[0]
	return 0.5 * math.Sqrt(cx*cx+cy*cy+cz*cz)
}

// Center returns the mean of the triangle's vertices.
func (t Triangle) Center() model.Vec3 {
	var c model.Vec3
	for i := 0; i < 3; i++ {
		c[i] = (t[0][i] + t[1][i] + t[2][i]) / 3
	}
	return c
}

// Centroid returns the area-weighted mean of the facet centers, which is
// the centroid of the surface. Degenerate meshes with zero total area fall
// back to the mean vertex position.
func (m *Mesh) Centroid() (model.Vec3, error) {
	if len(m.Triangles) == 0 {
		return model.Vec3{}, ErrEmptyMesh
	}
	var sum model.Vec3
	total := 0.0
	for _, t := range m.Triangles {
		a := t.Area()
		c := t.Center()
		for i := 0; i < 3; i++ {
			sum[i] += a * c[i]
		}
		total += a
	}
	if total > 0 {
		for i := range sum {
			sum[i] /= total
		}
		return sum, nil
	}

	sum = model.Vec3{}
	for _, t := range m.Triangles {
		c := t.Center()
		for i := 0; i < 3; i++ {
			sum[i] += c[i]
		}
	}
	n := float64(len(m.Triangles))
	for i := range sum {
		sum[i] /= n
	}
	return sum, nil
}

// CentroidOf reads path and returns its centroid.
func CentroidOf(path string) (model.Vec3, error) {
	m, err := ReadFile(path)
	if err != nil {
		return model.Vec3{}, err
	}
	c, err := m.Centroid()
	if err != nil {
		return model.Vec3{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func sub(a, b model.Vec3) model.Vec3 {
	return model.Vec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}
