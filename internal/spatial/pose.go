package spatial

import "math"

// Mat3 is a row-major 3x3 rotation matrix.
type Mat3 [3][3]float64

// Identity3 returns the 3x3 identity matrix.
func Identity3() Mat3 {
	return Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

func (m Mat3) MulVec(v Vec3) Vec3 {
	return Vec3{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

func (a Mat3) Mul(b Mat3) Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var s float64
			for k := 0; k < 3; k++ {
				s += a[i][k] * b[k][j]
			}
			out[i][j] = s
		}
	}
	return out
}

func (m Mat3) Transpose() Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m[j][i]
		}
	}
	return out
}

// Pose is a rigid SE(3) transform: world_point = R*local_point + T.
type Pose struct {
	R Mat3
	T Vec3
}

// Identity returns the identity pose.
func Identity() Pose { return Pose{R: Identity3()} }

// Transform applies the pose to a local-frame point, returning its
// world-frame position.
func (p Pose) Transform(v Vec3) Vec3 {
	return p.R.MulVec(v).Add(p.T)
}

// TransformDir applies only the rotation (for direction vectors / ray
// directions, which have no translation component).
func (p Pose) TransformDir(v Vec3) Vec3 {
	return p.R.MulVec(v)
}

// Inverse returns the pose that maps world-frame points back to
// local-frame: local = R^T*(world - T).
func (p Pose) Inverse() Pose {
	rt := p.R.Transpose()
	return Pose{R: rt, T: rt.MulVec(p.T).Scale(-1)}
}

// Compose returns the pose equivalent to first applying p, then q:
// (q ∘ p)(x) = q(p(x)).
func (q Pose) Compose(p Pose) Pose {
	return Pose{R: q.R.Mul(p.R), T: q.R.MulVec(p.T).Add(q.T)}
}

// ExpSE3 maps a 6-vector twist (rho[0:3] translation part, phi[3:6]
// rotation part, axis-angle) to a Pose via the closed-form Rodrigues
// exponential. Used to turn an ICP linear-system solution (a small
// increment) into a composable Pose.
func ExpSE3(twist [6]float64) Pose {
	phi := Vec3{twist[3], twist[4], twist[5]}
	theta := phi.Norm()

	var r Mat3
	if theta < 1e-9 {
		r = Identity3()
	} else {
		axis := phi.Scale(1 / theta)
		r = rodrigues(axis, theta)
	}

	return Pose{R: r, T: Vec3{twist[0], twist[1], twist[2]}}
}

// rodrigues builds the rotation matrix for a unit axis and angle theta.
func rodrigues(axis Vec3, theta float64) Mat3 {
	c := math.Cos(theta)
	s := math.Sin(theta)
	t := 1 - c
	x, y, z := axis.X, axis.Y, axis.Z
	return Mat3{
		{t*x*x + c, t*x*y - s*z, t*x*z + s*y},
		{t*x*y + s*z, t*y*y + c, t*y*z - s*x},
		{t*x*z - s*y, t*y*z + s*x, t*z*z + c},
	}
}

// LogSO3 returns the axis-angle (Rodrigues) vector for a rotation matrix,
// used to zero out roll/pitch DoFs in the accumulated ICP correction
// before re-composing it into a Pose.
func LogSO3(r Mat3) Vec3 {
	trace := r[0][0] + r[1][1] + r[2][2]
	cosTheta := (trace - 1) / 2
	if cosTheta > 1 {
		cosTheta = 1
	}
	if cosTheta < -1 {
		cosTheta = -1
	}
	theta := math.Acos(cosTheta)
	if theta < 1e-9 {
		return Vec3{}
	}
	sinTheta := math.Sin(theta)
	v := Vec3{
		X: r[2][1] - r[1][2],
		Y: r[0][2] - r[2][0],
		Z: r[1][0] - r[0][1],
	}
	return v.Scale(theta / (2 * sinTheta))
}

// YawOnly projects a rotation matrix onto a pure yaw (Z-axis) rotation,
// zeroing the roll and pitch components of its axis-angle representation.
func YawOnly(r Mat3) Mat3 {
	axisAngle := LogSO3(r)
	theta := axisAngle.Norm()
	if theta < 1e-9 {
		return Identity3()
	}
	// Keep only the Z component of the rotation vector.
	yawVec := Vec3{0, 0, axisAngle.Z}
	yawTheta := yawVec.Norm()
	if yawTheta < 1e-9 {
		return Identity3()
	}
	return rodrigues(yawVec.Scale(1/yawTheta), yawTheta)
}
