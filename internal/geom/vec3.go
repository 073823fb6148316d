package geom

import (
	"fmt"
	"math"
)

// Vec3 is a world position. Block coordinates are whole numbers; entity
// positions may be fractional.
type Vec3 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

func V(x, y, z float64) Vec3 { return Vec3{X: x, Y: y, Z: z} }

// FromArray converts the [x,y,z] wire form.
func FromArray(a [3]float64) Vec3 { return Vec3{X: a[0], Y: a[1], Z: a[2]} }

func (v Vec3) Array() [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

func (v Vec3) Offset(dx, dy, dz float64) Vec3 {
	return Vec3{X: v.X + dx, Y: v.Y + dy, Z: v.Z + dz}
}

func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z} }

func (v Vec3) DistanceSquared(o Vec3) float64 {
	d := v.Sub(o)
	return d.X*d.X + d.Y*d.Y + d.Z*d.Z
}

func (v Vec3) Distance(o Vec3) float64 { return math.Sqrt(v.DistanceSquared(o)) }

// VerticalGap is |v.Y - o.Y|, used to tell surface players from ones in tunnels.
func (v Vec3) VerticalGap(o Vec3) float64 { return math.Abs(v.Y - o.Y) }

// Floored snaps to the containing block cell.
func (v Vec3) Floored() Vec3 {
	return Vec3{X: math.Floor(v.X), Y: math.Floor(v.Y), Z: math.Floor(v.Z)}
}

func (v Vec3) String() string {
	return fmt.Sprintf("(%.1f, %.1f, %.1f)", v.X, v.Y, v.Z)
}

// Up is the top face normal used when placing a block on the cell below a target.
var Up = Vec3{Y: 1}
