package stock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type namerMap map[int64]string

func (n namerMap) ProductName(ctx context.Context, productID int64) (string, error) {
	if name, ok := n[productID]; ok {
		return name, nil
	}
	return "", ErrProductNotFound
}

func TestValidateStockInsufficient(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(1, 10)
	svc := seededService(t, repo)
	query := NewQueryService(repo, QueryConfig{})
	stockIn(t, svc, 1, 3, 5)

	v := NewValidator(query, namerMap{1: "Arabica Beans 1kg"})
	result, err := v.ValidateStock(context.Background(), []RequestedLine{{ProductID: 1, Quantity: 5}})
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.Len(t, result.Errors, 1)

	line := result.Errors[0]
	require.Equal(t, int64(1), line.ProductID)
	require.Equal(t, "Arabica Beans 1kg", line.Name)
	require.Equal(t, 5.0, line.Requested)
	require.Equal(t, 3.0, line.Available)
	require.Equal(t, "insufficient_stock", line.Reason)
	require.Contains(t, line.Message, "available 3, requested 5")
	require.ErrorIs(t, line, ErrInsufficientStock)
}

func TestValidateStockOutOfStock(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(1, 10)
	query := NewQueryService(repo, QueryConfig{})

	v := NewValidator(query, nil)
	result, err := v.ValidateStock(context.Background(), []RequestedLine{{ProductID: 1, Quantity: 1}})
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.Equal(t, "out_of_stock", result.Errors[0].Reason)
	require.ErrorIs(t, result.Errors[0], ErrOutOfStock)
	require.Contains(t, result.Errors[0].Message, "product 1")
}

func TestValidateStockUnresolvedLine(t *testing.T) {
	repo := newMemoryRepo()
	query := NewQueryService(repo, QueryConfig{})

	v := NewValidator(query, nil)
	result, err := v.ValidateStock(context.Background(), []RequestedLine{{ProductID: 0, Quantity: 2}})
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.Equal(t, "not_found", result.Errors[0].Reason)
	require.ErrorIs(t, result.Errors[0], ErrProductNotFound)
}

func TestValidateStockAllFulfillable(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(1, 10)
	repo.addProduct(2, 12)
	svc := seededService(t, repo)
	query := NewQueryService(repo, QueryConfig{})
	stockIn(t, svc, 1, 10, 5)
	stockIn(t, svc, 2, 4, 5)

	v := NewValidator(query, nil)
	result, err := v.ValidateStock(context.Background(), []RequestedLine{
		{ProductID: 1, Quantity: 10},
		{ProductID: 2, Quantity: 1},
	})
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.Empty(t, result.Errors)

	require.NoError(t, v.ValidateOrFail(context.Background(), []RequestedLine{{ProductID: 1, Quantity: 2}}))
}

func TestValidateOrFailReturnsFirstShortfall(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(1, 10)
	repo.addProduct(2, 12)
	svc := seededService(t, repo)
	query := NewQueryService(repo, QueryConfig{})
	stockIn(t, svc, 1, 2, 5)

	v := NewValidator(query, nil)
	err := v.ValidateOrFail(context.Background(), []RequestedLine{
		{ProductID: 1, Quantity: 5},
		{ProductID: 2, Quantity: 1},
	})
	require.Error(t, err)
	var line LineError
	require.ErrorAs(t, err, &line)
	require.Equal(t, int64(1), line.ProductID)
	require.Equal(t, "insufficient_stock", line.Reason)
}
