package ref

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	Name string
}

type widgetOptions struct {
	Name string
}

func newWidget(options *widgetOptions) (*widget, error) {
	if options.Name == "" {
		return nil, errors.New("name cannot be empty")
	}
	return &widget{Name: options.Name}, nil
}

func newDefaultWidget() *widget {
	return &widget{Name: "default"}
}

type fakeStorage map[string]string

func (s fakeStorage) ConvertTo(object any) error {
	o, ok := object.(*widgetOptions)
	if !ok {
		return errors.New("unexpected target")
	}
	o.Name = s["name"]
	return nil
}

func TestRegisterAndNew(t *testing.T) {
	require.NoError(t, Register("test", "widget", newWidget))
	require.NoError(t, Register("test", "defaultWidget", newDefaultWidget))

	t.Run("options", func(t *testing.T) {
		obj, err := New("test", "widget", &widgetOptions{Name: "a"})
		require.NoError(t, err)
		assert.Equal(t, "a", obj.(*widget).Name)
	})

	t.Run("constructor error", func(t *testing.T) {
		_, err := New("test", "widget", &widgetOptions{})
		assert.EqualError(t, err, "name cannot be empty")
	})

	t.Run("no options", func(t *testing.T) {
		obj, err := New("test", "defaultWidget", nil)
		require.NoError(t, err)
		assert.Equal(t, "default", obj.(*widget).Name)
	})

	t.Run("convertable", func(t *testing.T) {
		obj, err := New("test", "widget", fakeStorage{"name": "from-storage"})
		require.NoError(t, err)
		assert.Equal(t, "from-storage", obj.(*widget).Name)
	})

	t.Run("not assignable", func(t *testing.T) {
		_, err := New("test", "widget", "name")
		assert.Error(t, err)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := New("test", "unknown", nil)
		assert.Error(t, err)
	})
}

func TestRegisterTwice(t *testing.T) {
	require.NoError(t, Register("twice", "widget", newWidget))
	assert.NoError(t, Register("twice", "widget", newWidget))
	assert.Error(t, Register("twice", "widget", newDefaultWidget))
}

func TestRegisterInvalid(t *testing.T) {
	assert.Error(t, Register("invalid", "notFunc", 1))
	assert.Error(t, Register("invalid", "tooManyIn", func(a, b int) int { return a + b }))
	assert.Error(t, Register("invalid", "badErr", func() (int, int) { return 0, 0 }))
}

func TestNewT(t *testing.T) {
	MustRegisterT[*widget](newWidget)

	w, err := NewT[*widget](&TypeOptions{
		Namespace: "github.com/hatlonely/rdbx/ref",
		Type:      "widget",
		Options:   &widgetOptions{Name: "typed"},
	})
	require.NoError(t, err)
	assert.Equal(t, "typed", w.Name)

	_, err = NewT[*widget](nil)
	assert.Error(t, err)

	_, err = NewT[error](&TypeOptions{Namespace: "github.com/hatlonely/rdbx/ref", Type: "widget", Options: &widgetOptions{Name: "x"}})
	assert.Error(t, err)
}
