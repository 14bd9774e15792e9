package loader

import (
	"encoding/json"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
	ctyjson "github.com/zclconf/go-cty/cty/json"

	"github.com/rendis/planit/pkg/schema"
)

var fileSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "plan", LabelNames: []string{"name"}},
	},
}

var planSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "vars"},
		{Name: "metadata"},
	},
	Blocks: append([]hcl.BlockHeaderSchema{
		{Type: "resources", LabelNames: []string{"name"}},
	}, nodeBlocks...),
}

var nodeBlocks = []hcl.BlockHeaderSchema{
	{Type: "step", LabelNames: []string{"name"}},
	{Type: "chain"},
	{Type: "parallel"},
}

var compositeSchema = &hcl.BodySchema{Blocks: nodeBlocks}

type hclSlurm struct {
	Time             string         `hcl:"time"`
	Partition        string         `hcl:"partition,optional"`
	GPUsPerNode      int            `hcl:"gpus_per_node,optional"`
	Nodes            int            `hcl:"nodes,optional"`
	CPUsPerTask      int            `hcl:"cpus_per_task,optional"`
	CPUsPerGPU       int            `hcl:"cpus_per_gpu,optional"`
	MemGB            int            `hcl:"mem_gb,optional"`
	Account          string         `hcl:"account,optional"`
	Cluster          string         `hcl:"cluster,optional"`
	MailType         []string       `hcl:"mail_type,optional"`
	MailUser         string         `hcl:"mail_user,optional"`
	AdditionalParams hcl.Expression `hcl:"additional_params,optional"`
}

type hclStep struct {
	Action    string         `hcl:"action"`
	Resources string         `hcl:"resources,optional"`
	Slurm     *hclSlurm      `hcl:"slurm,block"`
	Raw       hcl.Expression `hcl:"raw,optional"`
	Args      hcl.Expression `hcl:"args,optional"`
	Kwargs    hcl.Expression `hcl:"kwargs,optional"`
}

// decodeHCL reads a single plan block. Attribute expressions can use the
// HCL variables vars, env and plan; nodes keep their source order.
func decodeHCL(data []byte, filename string, env map[string]string) (*schema.PlanDefinition, error) {
	file, diags := hclparse.NewParser().ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, hclError("failed to parse HCL", diags)
	}

	content, diags := file.Body.Content(fileSchema)
	if diags.HasErrors() {
		return nil, hclError("invalid plan file", diags)
	}
	if len(content.Blocks) != 1 {
		return nil, schema.NewErrorf(schema.ErrCodeParse, "%s must contain exactly one plan block, found %d", filename, len(content.Blocks))
	}
	block := content.Blocks[0]
	def := &schema.PlanDefinition{Name: block.Labels[0]}

	body, diags := block.Body.Content(planSchema)
	if diags.HasErrors() {
		return nil, hclError("invalid plan block", diags)
	}

	envVal, err := gocty.ToCtyValue(env, cty.Map(cty.String))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeParse, "cannot expose environment to HCL").WithCause(err)
	}
	evalCtx := &hcl.EvalContext{Variables: map[string]cty.Value{
		"env":  envVal,
		"plan": cty.ObjectVal(map[string]cty.Value{"name": cty.StringVal(def.Name)}),
	}}

	if attr, ok := body.Attributes["metadata"]; ok {
		m, err := attrMap(attr.Expr, evalCtx, "metadata")
		if err != nil {
			return nil, err
		}
		def.Metadata = m
	}
	if attr, ok := body.Attributes["vars"]; ok {
		val, diags := attr.Expr.Value(evalCtx)
		if diags.HasErrors() {
			return nil, hclError("invalid vars", diags)
		}
		m, err := valueMap(val, "vars")
		if err != nil {
			return nil, err
		}
		def.Vars = m
		evalCtx.Variables["vars"] = val
	} else {
		evalCtx.Variables["vars"] = cty.EmptyObjectVal
	}

	def.Resources = make(map[string]schema.SlurmArgs)
	var roots []schema.NodeDefinition
	for _, b := range body.Blocks {
		if b.Type == "resources" {
			name := b.Labels[0]
			if _, dup := def.Resources[name]; dup {
				return nil, schema.NewErrorf(schema.ErrCodeConflict, "resource profile %q defined twice", name)
			}
			args, err := decodeSlurm(b.Body, evalCtx)
			if err != nil {
				return nil, err
			}
			def.Resources[name] = args
			continue
		}
		node, err := decodeNode(b, evalCtx)
		if err != nil {
			return nil, err
		}
		roots = append(roots, node)
	}
	if len(def.Resources) == 0 {
		def.Resources = nil
	}
	if len(roots) != 1 {
		return nil, schema.NewErrorf(schema.ErrCodeParse, "plan %q must have exactly one root step, chain or parallel block, found %d", def.Name, len(roots))
	}
	def.Root = roots[0]
	return def, nil
}

func decodeNode(b *hcl.Block, evalCtx *hcl.EvalContext) (schema.NodeDefinition, error) {
	switch b.Type {
	case "step":
		s, err := decodeStep(b.Labels[0], b.Body, evalCtx)
		if err != nil {
			return schema.NodeDefinition{}, err
		}
		return schema.NodeDefinition{Step: s}, nil
	case "chain", "parallel":
		content, diags := b.Body.Content(compositeSchema)
		if diags.HasErrors() {
			return schema.NodeDefinition{}, hclError("invalid "+b.Type+" block", diags)
		}
		children := make([]schema.NodeDefinition, 0, len(content.Blocks))
		for _, child := range content.Blocks {
			n, err := decodeNode(child, evalCtx)
			if err != nil {
				return schema.NodeDefinition{}, err
			}
			children = append(children, n)
		}
		if b.Type == "chain" {
			return schema.NodeDefinition{Chain: children, IsChain: true}, nil
		}
		return schema.NodeDefinition{Parallel: children, IsParallel: true}, nil
	default:
		return schema.NodeDefinition{}, schema.NewErrorf(schema.ErrCodeParse, "unexpected %s block", b.Type)
	}
}

func decodeStep(name string, body hcl.Body, evalCtx *hcl.EvalContext) (*schema.StepDefinition, error) {
	var hs hclStep
	if diags := gohcl.DecodeBody(body, evalCtx, &hs); diags.HasErrors() {
		return nil, hclError(fmt.Sprintf("invalid step %q", name), diags)
	}

	s := &schema.StepDefinition{Name: name, Action: hs.Action, Resources: hs.Resources}
	if hs.Slurm != nil {
		args, err := toSlurmArgs(hs.Slurm, evalCtx)
		if err != nil {
			return nil, err
		}
		s.Slurm = &args
	}

	raw, err := optionalValue(hs.Raw, evalCtx, "raw")
	if err != nil {
		return nil, err
	}
	if raw != nil {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeParse, "step %q: raw must be an object", name)
		}
		s.Raw = m
	}

	args, err := optionalValue(hs.Args, evalCtx, "args")
	if err != nil {
		return nil, err
	}
	if args != nil {
		list, ok := args.([]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeParse, "step %q: args must be a list", name)
		}
		s.Args = list
	}

	kwargs, err := optionalValue(hs.Kwargs, evalCtx, "kwargs")
	if err != nil {
		return nil, err
	}
	if kwargs != nil {
		m, ok := kwargs.(map[string]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeParse, "step %q: kwargs must be an object", name)
		}
		s.Kwargs = m
	}
	return s, nil
}

func decodeSlurm(body hcl.Body, evalCtx *hcl.EvalContext) (schema.SlurmArgs, error) {
	var hs hclSlurm
	if diags := gohcl.DecodeBody(body, evalCtx, &hs); diags.HasErrors() {
		return schema.SlurmArgs{}, hclError("invalid resources block", diags)
	}
	return toSlurmArgs(&hs, evalCtx)
}

func toSlurmArgs(hs *hclSlurm, evalCtx *hcl.EvalContext) (schema.SlurmArgs, error) {
	args := schema.SlurmArgs{
		Time:        hs.Time,
		Partition:   hs.Partition,
		GPUsPerNode: hs.GPUsPerNode,
		Nodes:       hs.Nodes,
		CPUsPerTask: hs.CPUsPerTask,
		CPUsPerGPU:  hs.CPUsPerGPU,
		MemGB:       hs.MemGB,
		Account:     hs.Account,
		Cluster:     hs.Cluster,
		MailUser:    hs.MailUser,
	}
	for _, m := range hs.MailType {
		args.MailType = append(args.MailType, schema.MailType(m))
	}
	extra, err := optionalValue(hs.AdditionalParams, evalCtx, "additional_params")
	if err != nil {
		return schema.SlurmArgs{}, err
	}
	if extra != nil {
		m, ok := extra.(map[string]any)
		if !ok {
			return schema.SlurmArgs{}, schema.NewError(schema.ErrCodeParse, "additional_params must be an object")
		}
		args.AdditionalParams = m
	}
	return args, nil
}

// optionalValue evaluates an optional attribute. Omitted attributes come
// back from gohcl as zero-width expressions and yield nil.
func optionalValue(expr hcl.Expression, evalCtx *hcl.EvalContext, what string) (any, error) {
	if expr == nil {
		return nil, nil
	}
	if r := expr.Range(); r.End.Byte <= r.Start.Byte {
		return nil, nil
	}
	val, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return nil, hclError("invalid "+what, diags)
	}
	return toGo(val, what)
}

func attrMap(expr hcl.Expression, evalCtx *hcl.EvalContext, what string) (map[string]any, error) {
	val, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return nil, hclError("invalid "+what, diags)
	}
	return valueMap(val, what)
}

func valueMap(val cty.Value, what string) (map[string]any, error) {
	v, err := toGo(val, what)
	if err != nil || v == nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeParse, "%s must be an object", what)
	}
	return m, nil
}

// toGo converts a cty value to the shapes encoding/json produces.
func toGo(val cty.Value, what string) (any, error) {
	if val.IsNull() {
		return nil, nil
	}
	if !val.IsWhollyKnown() {
		return nil, schema.NewErrorf(schema.ErrCodeParse, "%s has unknown values", what)
	}
	b, err := ctyjson.Marshal(val, val.Type())
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeParse, "cannot convert %s", what).WithCause(err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeParse, "cannot convert %s", what).WithCause(err)
	}
	return out, nil
}

func hclError(msg string, diags hcl.Diagnostics) error {
	return schema.NewErrorf(schema.ErrCodeParse, "%s: %s", msg, diags.Error()).WithCause(diags)
}
