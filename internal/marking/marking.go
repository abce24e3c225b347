// Package marking groups the ellipses volunteers draw around candidate features.
//
// Two markings belong to the same cluster when the centre of one lies inside the
// other's rotated ellipse, in either direction; clusters are the transitive
// closure of that relation.
package marking

import "math"

// Marking is a volunteer's ellipse on a subject. Angle is in radians, measured
// clockwise in image coordinates.
type Marking struct {
	ClassificationID int64
	SubjectID        int64
	CenterX          float64
	CenterY          float64
	SemiAxisX        float64
	SemiAxisY        float64
	Angle            float64
}

// AngleFromDegrees converts the platform's counter-clockwise degrees into
// the clockwise radians used by Contains.
func AngleFromDegrees(deg float64) float64 {
	return -deg * math.Pi / 180
}

// Contains reports whether the point (x, y) lies inside or on the rotated
// ellipse of outside. An ellipse always contains its own centre; one with a
// non-positive semi-axis contains nothing else.
func Contains(outside *Marking, x, y float64) bool {
	if x == outside.CenterX && y == outside.CenterY {
		return true
	}
	if outside.SemiAxisX <= 0 || outside.SemiAxisY <= 0 {
		return false
	}

	dx := x - outside.CenterX
	dy := y - outside.CenterY
	sin, cos := math.Sincos(outside.Angle)

	u := (dx*cos + dy*sin) / outside.SemiAxisX
	v := (dx*sin - dy*cos) / outside.SemiAxisY
	return u*u+v*v <= 1
}

// BoundingBox is an axis-aligned box in image coordinates.
type BoundingBox struct {
	MinX, MinY, MaxX, MaxY float64
}

// BoundingBox returns the extrema of the rotated ellipse.
func (m *Marking) BoundingBox() BoundingBox {
	a := math.Max(m.SemiAxisX, 0)
	b := math.Max(m.SemiAxisY, 0)
	sin, cos := math.Sincos(m.Angle)

	halfWidth := math.Sqrt(a*a*cos*cos + b*b*sin*sin)
	halfHeight := math.Sqrt(a*a*sin*sin + b*b*cos*cos)

	return BoundingBox{
		MinX: m.CenterX - halfWidth,
		MinY: m.CenterY - halfHeight,
		MaxX: m.CenterX + halfWidth,
		MaxY: m.CenterY + halfHeight,
	}
}

// Geometry summarizes a cluster: averaged ellipse parameters and the
// bounding box of the averaged ellipse.
type Geometry struct {
	CenterX     float64
	CenterY     float64
	SemiAxisX   float64
	SemiAxisY   float64
	Angle       float64
	BoundingBox BoundingBox
	Size        int
}

// Summarize averages the ellipse parameters of a cluster. An empty cluster
// yields the zero Geometry.
func Summarize(cluster []Marking) Geometry {
	if len(cluster) == 0 {
		return Geometry{}
	}

	var avg Marking
	for i := range cluster {
		avg.CenterX += cluster[i].CenterX
		avg.CenterY += cluster[i].CenterY
		avg.SemiAxisX += cluster[i].SemiAxisX
		avg.SemiAxisY += cluster[i].SemiAxisY
		avg.Angle += cluster[i].Angle
	}
	n := float64(len(cluster))
	avg.CenterX /= n
	avg.CenterY /= n
	avg.SemiAxisX /= n
	avg.SemiAxisY /= n
	avg.Angle /= n

	return Geometry{
		CenterX:     avg.CenterX,
		CenterY:     avg.CenterY,
		SemiAxisX:   avg.SemiAxisX,
		SemiAxisY:   avg.SemiAxisY,
		Angle:       avg.Angle,
		BoundingBox: avg.BoundingBox(),
		Size:        len(cluster),
	}
}
