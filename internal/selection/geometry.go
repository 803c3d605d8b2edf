package selection

type Point struct{ X, Y float64 }

func (p Point) Add(o Point) Point { return Point{p.X + o.X, p.Y + o.Y} }
func (p Point) Sub(o Point) Point { return Point{p.X - o.X, p.Y - o.Y} }

// Rect is an axis-aligned box with its origin at the top-left corner.
type Rect struct{ X, Y, W, H float64 }

// RectFrom normalizes a rectangle dragged between two arbitrary corners.
func RectFrom(a, b Point) Rect {
	return Rect{X: min(a.X, b.X), Y: min(a.Y, b.Y), W: abs(a.X - b.X), H: abs(a.Y - b.Y)}
}

func (r Rect) empty() bool { return r.W <= 0 || r.H <= 0 }

func (r Rect) Contains(p Point) bool {
	if r.empty() {
		return false
	}
	return p.X >= r.X && p.X <= r.X+r.W && p.Y >= r.Y && p.Y <= r.Y+r.H
}

func (r Rect) ContainsRect(o Rect) bool {
	return r.Contains(Point{o.X, o.Y}) && r.Contains(Point{o.X + o.W, o.Y + o.H})
}

func (r Rect) Intersects(o Rect) bool {
	if r.empty() || o.empty() {
		return false
	}
	return r.X < o.X+o.W && o.X < r.X+r.W && r.Y < o.Y+o.H && o.Y < r.Y+r.H
}

func (r Rect) Center() Point { return Point{r.X + r.W/2, r.Y + r.H/2} }

func (r Rect) Corners() [4]Point {
	return [4]Point{
		{r.X, r.Y},
		{r.X + r.W, r.Y},
		{r.X, r.Y + r.H},
		{r.X + r.W, r.Y + r.H},
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
