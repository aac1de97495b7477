package indexes

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockToggler struct {
	mock.Mock
}

func (m *MockToggler) DropIndex(ctx context.Context, spec Spec) error {
	return m.Called(spec.Name).Error(0)
}

func (m *MockToggler) CreateIndex(ctx context.Context, spec Spec) error {
	return m.Called(spec.Name).Error(0)
}

var testSpecs = []Spec{
	{Name: "idx_sales_date", Table: "sales", Columns: []string{"date"}},
	{Name: "idx_incidents_area", Table: "incidents", Columns: []string{"area_code"}},
}

func TestSpec_String(t *testing.T) {
	s := Spec{Name: "idx_incidents_location", Table: "incidents", Columns: []string{"latitude", "longitude"}}
	assert.Equal(t, "idx_incidents_location ON incidents(latitude, longitude)", s.String())
}

func TestBracket_FullLoad(t *testing.T) {
	toggler := &MockToggler{}
	for _, s := range testSpecs {
		toggler.On("DropIndex", s.Name).Return(nil).Once()
		toggler.On("CreateIndex", s.Name).Return(nil).Once()
	}

	m := NewManager(toggler, testSpecs, Options{}, logrus.New())
	assert.True(t, m.Enabled())

	var during State
	err := m.Bracket(context.Background(), func(ctx context.Context) error {
		during = m.State()
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, Loading, during)
	assert.Equal(t, Idle, m.State())
	assert.Equal(t, 1, m.Restores())
	toggler.AssertExpectations(t)
}

func TestBracket_RestoresOnceOnLoadFailure(t *testing.T) {
	toggler := &MockToggler{}
	for _, s := range testSpecs {
		toggler.On("DropIndex", s.Name).Return(nil).Once()
		toggler.On("CreateIndex", s.Name).Return(nil).Once()
	}

	m := NewManager(toggler, testSpecs, Options{}, logrus.New())
	batchErr := errors.New("batch write failed")
	err := m.Bracket(context.Background(), func(ctx context.Context) error {
		return batchErr
	})

	assert.ErrorIs(t, err, batchErr)
	assert.Equal(t, 1, m.Restores())
	toggler.AssertNumberOfCalls(t, "CreateIndex", len(testSpecs))
	toggler.AssertExpectations(t)
}

func TestBracket_RestoresAfterCancellation(t *testing.T) {
	toggler := &MockToggler{}
	for _, s := range testSpecs {
		toggler.On("DropIndex", s.Name).Return(nil).Once()
		toggler.On("CreateIndex", s.Name).Return(nil).Once()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := NewManager(toggler, testSpecs, Options{}, logrus.New())
	err := m.Bracket(ctx, func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, m.Restores())
	toggler.AssertExpectations(t)
}

func TestBracket_RestoresAfterPartialDrop(t *testing.T) {
	toggler := &MockToggler{}
	toggler.On("DropIndex", "idx_sales_date").Return(nil).Once()
	toggler.On("DropIndex", "idx_incidents_area").Return(errors.New("locked")).Once()
	for _, s := range testSpecs {
		toggler.On("CreateIndex", s.Name).Return(nil).Once()
	}

	m := NewManager(toggler, testSpecs, Options{}, logrus.New())
	called := false
	err := m.Bracket(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to drop index idx_incidents_area")
	assert.False(t, called)
	assert.Equal(t, 1, m.Restores())
	toggler.AssertExpectations(t)
}

func TestBracket_RestoreErrorsAreReported(t *testing.T) {
	toggler := &MockToggler{}
	for _, s := range testSpecs {
		toggler.On("DropIndex", s.Name).Return(nil).Once()
	}
	toggler.On("CreateIndex", "idx_sales_date").Return(errors.New("disk full")).Once()
	toggler.On("CreateIndex", "idx_incidents_area").Return(nil).Once()

	m := NewManager(toggler, testSpecs, Options{}, logrus.New())
	err := m.Bracket(context.Background(), func(ctx context.Context) error { return nil })

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to restore index idx_sales_date")
	toggler.AssertExpectations(t)
}

func TestBracket_NoopModes(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"update", Options{Update: true}},
		{"dry run", Options{DryRun: true}},
		{"update dry run", Options{Update: true, DryRun: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			toggler := &MockToggler{}
			m := NewManager(toggler, testSpecs, tt.opts, logrus.New())
			assert.False(t, m.Enabled())

			called := false
			err := m.Bracket(context.Background(), func(ctx context.Context) error {
				called = true
				return nil
			})
			require.NoError(t, err)
			assert.True(t, called)
			assert.Equal(t, 0, m.Restores())
			toggler.AssertNotCalled(t, "DropIndex", mock.Anything)
			toggler.AssertNotCalled(t, "CreateIndex", mock.Anything)
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "indexes_dropped", IndexesDropped.String())
	assert.Equal(t, "state(9)", State(9).String())
}
