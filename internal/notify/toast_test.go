package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockElement struct {
	mock.Mock
	id      string
	classes []string
}

func newElement(id string, classes ...string) *mockElement {
	return &mockElement{id: id, classes: classes}
}

func (m *mockElement) ID() string        { return m.id }
func (m *mockElement) Classes() []string { return m.classes }

func (m *mockElement) Show(ctx context.Context, opts ToastOptions) error {
	return m.Called(ctx, opts).Error(0)
}

func TestShowAllMatchingElements(t *testing.T) {
	toasts := []*mockElement{
		newElement("a", "toast"),
		newElement("b", "toast", "wide"),
		newElement("c", "toast"),
	}
	other := newElement("d", "banner")

	elements := []Element{toasts[0], other, toasts[1], toasts[2]}
	for _, el := range toasts {
		el.On("Show", mock.Anything, mock.MatchedBy(func(o ToastOptions) bool { return !o.Autohide })).Return(nil).Once()
	}

	n, err := NewToaster().ShowAll(context.Background(), elements, ".toast", ToastOptions{Body: "串口已连接", Autohide: true})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, el := range toasts {
		el.AssertNumberOfCalls(t, "Show", 1)
	}
	other.AssertNotCalled(t, "Show", mock.Anything, mock.Anything)
}

func TestShowAllNoMatch(t *testing.T) {
	el := newElement("a", "banner")
	n, err := NewToaster().ShowAll(context.Background(), []Element{el}, ".toast", ToastOptions{})
	require.NoError(t, err)
	assert.Zero(t, n)
	el.AssertNotCalled(t, "Show", mock.Anything, mock.Anything)
}

func TestShowAllDefaultsLevel(t *testing.T) {
	el := newElement("a")
	el.On("Show", mock.Anything, ToastOptions{Body: "hi", Level: LevelInfo}).Return(nil)

	n, err := NewToaster().ShowAll(context.Background(), []Element{el}, "#a", ToastOptions{Body: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	el.AssertExpectations(t)
}

func TestShowAllCollectsErrors(t *testing.T) {
	broken := errors.New("connection closed")
	ok := newElement("a", "toast")
	bad := newElement("b", "toast")
	ok.On("Show", mock.Anything, mock.Anything).Return(nil)
	bad.On("Show", mock.Anything, mock.Anything).Return(broken)

	n, err := NewToaster().ShowAll(context.Background(), []Element{ok, bad}, "*", ToastOptions{})
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, err, broken)
}

func TestShowAllCancelled(t *testing.T) {
	el := newElement("a", "toast")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := NewToaster().ShowAll(ctx, []Element{el}, ".toast", ToastOptions{})
	assert.Zero(t, n)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseSelector(t *testing.T) {
	tests := []struct {
		selector string
		id       string
		classes  []string
		want     bool
		wantErr  bool
	}{
		{"*", "x", nil, true, false},
		{".toast", "x", []string{"toast"}, true, false},
		{".toast", "x", []string{"other"}, false, false},
		{"#x", "x", nil, true, false},
		{"#y", "x", nil, false, false},
		{"#y, .toast", "x", []string{"toast"}, true, false},
		{"", "", nil, false, true},
		{" , ", "", nil, false, true},
		{"div", "", nil, false, true},
		{".", "", nil, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			sel, err := ParseSelector(tt.selector)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, sel.Match(newElement(tt.id, tt.classes...)))
		})
	}
}
