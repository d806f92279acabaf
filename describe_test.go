package rspc

import (
	"context"
	"testing"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Address struct {
	Street string `json:"street"`
	Zip    string `json:"zip,omitempty"`
}

type Base struct {
	ID string `json:"id"`
}

type User struct {
	Base
	Name     string            `json:"name"`
	Email    *string           `json:"email"`
	Tags     []string          `json:"tags"`
	Labels   map[string]int    `json:"labels"`
	Address  Address           `json:"address"`
	Friends  []*User           `json:"friends,omitzero"`
	Created  time.Time         `json:"created"`
	Avatar   []byte            `json:"avatar"`
	Password string            `json:"-"`
	internal string
}

type Node struct {
	*Node
	Label string `json:"label"`
}

type Audited struct {
	Base
	Stamp struct {
		Base
	} `json:"stamp"`
}

func TestDescribeSelfEmbedding(t *testing.T) {
	get, err := Query(NewBuilder[struct{}](), func(context.Context, struct{}, struct{}) (Node, error) {
		return Node{}, nil
	})
	require.NoError(t, err)
	audit, err := Query(NewBuilder[struct{}](), func(context.Context, struct{}, struct{}) (Audited, error) {
		return Audited{}, nil
	})
	require.NoError(t, err)
	r, err := NewRouter().Procedure("node", get).Procedure("audit", audit).Build()
	require.NoError(t, err)

	desc := r.Describe()
	node := desc.Types["rspc.Node"]
	require.Len(t, node.Fields, 1)
	assert.Equal(t, "label", node.Fields[0].Name)

	// The same struct embedded on separate paths is flattened in both.
	audited := desc.Types["rspc.Audited"]
	require.Len(t, audited.Fields, 2)
	assert.Equal(t, "id", audited.Fields[0].Name)
	require.Len(t, audited.Fields[1].Type.Fields, 1)
	assert.Equal(t, "id", audited.Fields[1].Type.Fields[0].Name)
}

func TestDescribe(t *testing.T) {
	get, err := Query(NewBuilder[struct{}]().With(Transparent("log", func(ctx context.Context, in *Input, _ ProcedureMeta, next func(context.Context, *Input) *Stream) *Stream {
		return next(ctx, in)
	})), func(_ context.Context, _ struct{}, id string) (*User, error) {
		return nil, nil
	})
	require.NoError(t, err)

	r, err := NewRouter().Procedure("users.get", get).Procedure("count", countProcedure(t)).Build()
	require.NoError(t, err)
	desc := r.Describe()

	require.Len(t, desc.Procedures, 2)
	assert.Equal(t, "count", desc.Procedures[0].Name)
	assert.Equal(t, KindSubscription, desc.Procedures[0].Kind)
	assert.Equal(t, "number", desc.Procedures[0].Output.Kind)

	pd := desc.Procedures[1]
	assert.Equal(t, "users.get", pd.Name)
	assert.Equal(t, []string{"log"}, pd.Middleware)
	assert.Equal(t, &TypeDescription{Kind: "string"}, pd.Input)
	assert.Equal(t, &TypeDescription{Kind: "ref", Name: "rspc.User", Nullable: true}, pd.Output)

	user, ok := desc.Types["rspc.User"]
	require.True(t, ok)
	fields := map[string]FieldDescription{}
	var names []string
	for _, f := range user.Fields {
		fields[f.Name] = f
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"id", "name", "email", "tags", "labels", "address", "friends", "created", "avatar"}, names)

	assert.True(t, fields["email"].Optional)
	assert.True(t, fields["email"].Type.Nullable)
	assert.True(t, fields["friends"].Optional)
	assert.Equal(t, "array", fields["tags"].Type.Kind)
	assert.Equal(t, "record", fields["labels"].Type.Kind)
	assert.Equal(t, "rspc.Address", fields["address"].Type.Name)
	assert.Equal(t, &TypeDescription{Kind: "ref", Name: "rspc.User", Nullable: true}, fields["friends"].Type.Elem)
	assert.Equal(t, "time.Time", fields["created"].Type.Name)
	assert.Equal(t, "bytes", fields["avatar"].Type.Name)

	addr := desc.Types["rspc.Address"]
	require.Len(t, addr.Fields, 2)
	assert.True(t, addr.Fields[1].Optional)
}

func TestDescribeMarshals(t *testing.T) {
	r, err := NewRouter().Procedure("echo", echoProcedure(t)).Build()
	require.NoError(t, err)

	data, err := json.Marshal(r.Describe())
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"procedures": [{
			"name": "echo",
			"kind": "query",
			"input": {"kind": "string"},
			"output": {"kind": "string"}
		}],
		"types": {}
	}`, string(data))
}
