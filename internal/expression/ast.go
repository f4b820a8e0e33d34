package expression

// Node is a node of the formula syntax tree. The set of node types is closed;
// the interpreter switches over it exhaustively.
type Node interface {
	position() int
}

// Literal is a string, number, boolean or null constant.
type Literal struct {
	Pos   int
	Value any
}

// Ident references a context variable or a lambda parameter.
type Ident struct {
	Pos  int
	Name string
}

// Member is property access: Object.Property or Object?.Property.
type Member struct {
	Pos      int
	Object   Node
	Property string
	Optional bool
}

// Index is computed access: Object[Index] or Object?.[Index].
type Index struct {
	Pos      int
	Object   Node
	Index    Node
	Optional bool
}

// Unary is a prefix operator: "!" or "-".
type Unary struct {
	Pos     int
	Op      string
	Operand Node
}

// Binary is an equality or relational comparison.
// Op is one of "==", "!=", "<", "<=", ">", ">=".
type Binary struct {
	Pos   int
	Op    string
	Left  Node
	Right Node
}

// Logical is a short-circuiting "&&" or "||".
type Logical struct {
	Pos   int
	Op    string
	Left  Node
	Right Node
}

// Array is a list literal.
type Array struct {
	Pos      int
	Elements []Node
}

// Call invokes an allow-listed top-level function such as date(...).
type Call struct {
	Pos  int
	Func string
	Args []Node
}

// MethodCall invokes an allow-listed collection or string method.
type MethodCall struct {
	Pos      int
	Object   Node
	Method   string
	Args     []Node
	Optional bool
}

// Lambda is a single-parameter arrow function. It may only appear as the
// argument of a collection predicate method.
type Lambda struct {
	Pos   int
	Param string
	Body  Node
}

func (n *Literal) position() int    { return n.Pos }
func (n *Ident) position() int      { return n.Pos }
func (n *Member) position() int     { return n.Pos }
func (n *Index) position() int      { return n.Pos }
func (n *Unary) position() int      { return n.Pos }
func (n *Binary) position() int     { return n.Pos }
func (n *Logical) position() int    { return n.Pos }
func (n *Array) position() int      { return n.Pos }
func (n *Call) position() int       { return n.Pos }
func (n *MethodCall) position() int { return n.Pos }
func (n *Lambda) position() int     { return n.Pos }

// methodSpec describes an allow-listed method.
type methodSpec struct {
	arity  int
	lambda bool // the single argument must be a lambda
}

var allowedMethods = map[string]methodSpec{
	"some":       {arity: 1, lambda: true},
	"every":      {arity: 1, lambda: true},
	"filter":     {arity: 1, lambda: true},
	"includes":   {arity: 1},
	"startsWith": {arity: 1},
	"endsWith":   {arity: 1},
}

var allowedFuncs = map[string]int{
	"date":  1,
	"lower": 1,
	"upper": 1,
}
