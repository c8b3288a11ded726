package imagery

import (
	"strconv"

	earthengine "google.golang.org/api/earthengine/v1"
)

type args map[string]*earthengine.ValueNode

// graph collects the top-level value table of an expression. Function bodies
// and shared subexpressions are stored there and referenced by key.
type graph struct {
	values map[string]earthengine.ValueNode
}

func newGraph() *graph {
	return &graph{values: make(map[string]earthengine.ValueNode)}
}

// add stores n and returns its key.
func (g *graph) add(n *earthengine.ValueNode) string {
	key := strconv.Itoa(len(g.values))
	g.values[key] = *n
	return key
}

// ref stores n and returns a node referring to it.
func (g *graph) ref(n *earthengine.ValueNode) *earthengine.ValueNode {
	return &earthengine.ValueNode{ValueReference: g.add(n)}
}

// expression closes the graph with result as its output.
func (g *graph) expression(result *earthengine.ValueNode) *earthengine.Expression {
	return &earthengine.Expression{Values: g.values, Result: g.add(result)}
}

func invoke(name string, a args) *earthengine.ValueNode {
	return &earthengine.ValueNode{FunctionInvocationValue: &earthengine.FunctionInvocation{
		FunctionName: name,
		Arguments:    a.nodes(),
	}}
}

// call invokes the function value stored under ref, such as a parsed expression.
func call(ref string, a args) *earthengine.ValueNode {
	return &earthengine.ValueNode{FunctionInvocationValue: &earthengine.FunctionInvocation{
		FunctionReference: ref,
		Arguments:         a.nodes(),
	}}
}

func function(g *graph, argumentNames []string, body *earthengine.ValueNode) *earthengine.ValueNode {
	return &earthengine.ValueNode{FunctionDefinitionValue: &earthengine.FunctionDefinition{
		ArgumentNames: argumentNames,
		Body:          g.add(body),
	}}
}

func (a args) nodes() map[string]earthengine.ValueNode {
	out := make(map[string]earthengine.ValueNode, len(a))
	for k, v := range a {
		out[k] = *v
	}
	return out
}

func constant(v any) *earthengine.ValueNode {
	return &earthengine.ValueNode{ConstantValue: v}
}

func argument(name string) *earthengine.ValueNode {
	return &earthengine.ValueNode{ArgumentReference: name}
}

func stringList(values ...string) *earthengine.ValueNode {
	nodes := make([]*earthengine.ValueNode, len(values))
	for i, v := range values {
		nodes[i] = constant(v)
	}
	return &earthengine.ValueNode{ArrayValue: &earthengine.ArrayValue{Values: nodes}}
}

func selectBands(image *earthengine.ValueNode, bands ...string) *earthengine.ValueNode {
	return invoke("Image.select", args{"input": image, "bandSelectors": stringList(bands...)})
}

func imageConstant(v any) *earthengine.ValueNode {
	return invoke("Image.constant", args{"value": constant(v)})
}

// imageOp applies a two-image algorithm such as Image.eq or Image.divide.
func imageOp(op string, image1, image2 *earthengine.ValueNode) *earthengine.ValueNode {
	return invoke("Image."+op, args{"image1": image1, "image2": image2})
}
