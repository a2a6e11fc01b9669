// Package geom provides the rigid-transform algebra shared by the SLAM
// controller and its collaborators.
package geom

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// RigidTolerance is the tolerance used when checking that a matrix is a
// proper rigid transform.
const RigidTolerance = 0.01

// Pose is a rigid camera-to-world transform.
// M is 4x4 row-major (m00..m03, m10..m13, m20..m23, m30..m33).
type Pose struct {
	M [16]float64 `json:"m"`
}

// Identity returns the identity pose.
func Identity() Pose {
	return Pose{M: [16]float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}}
}

// NewPose builds a pose that rotates by angle radians about axis and then
// translates by t. A zero axis means no rotation.
func NewPose(axis r3.Vec, angle float64, t r3.Vec) Pose {
	p := Identity()
	if r3.Norm(axis) > 0 && angle != 0 {
		setRotation(&p, r3.NewRotation(angle, r3.Unit(axis)))
	}
	p.M[3] = t.X
	p.M[7] = t.Y
	p.M[11] = t.Z
	return p
}

// FromQuaternion builds a pose from a rotation quaternion (w, x, y, z) and a
// translation. The quaternion is normalised first.
func FromQuaternion(w, x, y, z float64, t r3.Vec) (Pose, error) {
	q := quat.Number{Real: w, Imag: x, Jmag: y, Kmag: z}
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return Pose{}, fmt.Errorf("invalid rotation quaternion %v", q)
	}
	rot := r3.Rotation(quat.Scale(1/n, q))
	p := Identity()
	setRotation(&p, rot)
	p.M[3] = t.X
	p.M[7] = t.Y
	p.M[11] = t.Z
	return p, nil
}

func setRotation(p *Pose, rot r3.Rotation) {
	cols := [3]r3.Vec{
		rot.Rotate(r3.Vec{X: 1}),
		rot.Rotate(r3.Vec{Y: 1}),
		rot.Rotate(r3.Vec{Z: 1}),
	}
	for c, v := range cols {
		p.M[0*4+c] = v.X
		p.M[1*4+c] = v.Y
		p.M[2*4+c] = v.Z
	}
}

// Translate returns a pose with translation t and no rotation.
func Translate(t r3.Vec) Pose {
	return NewPose(r3.Vec{}, 0, t)
}

// FromDense copies a 4x4 matrix into a pose.
func FromDense(m mat.Matrix) (Pose, error) {
	r, c := m.Dims()
	if r != 4 || c != 4 {
		return Pose{}, fmt.Errorf("pose matrix must be 4x4, got %dx%d", r, c)
	}
	var p Pose
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			p.M[i*4+j] = m.At(i, j)
		}
	}
	return p, nil
}

// Dense returns the pose as a gonum matrix.
func (p Pose) Dense() *mat.Dense {
	data := make([]float64, 16)
	copy(data, p.M[:])
	return mat.NewDense(4, 4, data)
}

// Translation returns the translation component.
func (p Pose) Translation() r3.Vec {
	return r3.Vec{X: p.M[3], Y: p.M[7], Z: p.M[11]}
}

// Compose returns p∘q, i.e. the transform applying q first and p second.
func (p Pose) Compose(q Pose) Pose {
	var out mat.Dense
	out.Mul(p.Dense(), q.Dense())
	res, _ := FromDense(&out)
	return res
}

// Inverse returns the inverse rigid transform [Rᵀ | -Rᵀt].
func (p Pose) Inverse() Pose {
	m := p.Dense()
	rot := m.Slice(0, 3, 0, 3)
	t := mat.NewVecDense(3, []float64{p.M[3], p.M[7], p.M[11]})

	var rt mat.Dense
	rt.CloneFrom(rot.T())
	var nt mat.VecDense
	nt.MulVec(&rt, t)
	nt.ScaleVec(-1, &nt)

	inv := Identity()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			inv.M[i*4+j] = rt.At(i, j)
		}
		inv.M[i*4+3] = nt.AtVec(i)
	}
	return inv
}

// Apply transforms a point.
func (p Pose) Apply(v r3.Vec) r3.Vec {
	return r3.Vec{
		X: p.M[0]*v.X + p.M[1]*v.Y + p.M[2]*v.Z + p.M[3],
		Y: p.M[4]*v.X + p.M[5]*v.Y + p.M[6]*v.Z + p.M[7],
		Z: p.M[8]*v.X + p.M[9]*v.Y + p.M[10]*v.Z + p.M[11],
	}
}

// IsRigid reports whether the matrix is a proper rigid transform:
// a rotation block with determinant ≈ 1 and a last row of [0 0 0 1].
func (p Pose) IsRigid() bool {
	rot := p.Dense().Slice(0, 3, 0, 3)
	if math.Abs(mat.Det(rot)-1) > RigidTolerance {
		return false
	}
	if p.M[12] != 0 || p.M[13] != 0 || p.M[14] != 0 || math.Abs(p.M[15]-1) > 0.001 {
		return false
	}
	return true
}

// TranslationDistance is the Euclidean distance between the two camera centres.
func TranslationDistance(a, b Pose) float64 {
	return r3.Norm(r3.Sub(a.Translation(), b.Translation()))
}

// RotationAngle is the angle in radians of the relative rotation between a and b.
func RotationAngle(a, b Pose) float64 {
	rel := a.Inverse().Compose(b)
	trace := rel.M[0] + rel.M[5] + rel.M[10]
	c := (trace - 1) / 2
	c = math.Max(-1, math.Min(1, c))
	return math.Acos(c)
}

// ApproxEqual reports whether every matrix entry differs by at most tol.
func ApproxEqual(a, b Pose, tol float64) bool {
	for i := range a.M {
		if math.Abs(a.M[i]-b.M[i]) > tol {
			return false
		}
	}
	return true
}

// String formats the translation and rotation magnitude for log lines.
func (p Pose) String() string {
	t := p.Translation()
	return fmt.Sprintf("t=(%.3f, %.3f, %.3f) rot=%.2f°", t.X, t.Y, t.Z, RotationAngle(Identity(), p)*180/math.Pi)
}
