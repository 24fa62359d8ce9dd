package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recoverydispatch/internal/model"
)

func TestMemoryUpsertKeepsOrderAndReplaces(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.UpsertVehicles(ctx, "t1", []model.Vehicle{{ID: "a", Type: model.VanOnly}, {ID: "b", Type: model.VanTow}}))
	require.NoError(t, m.UpsertVehicles(ctx, "t1", []model.Vehicle{{ID: "a", Type: model.HiabGrabber}, {ID: "c"}}))

	vs, err := m.ListVehicles(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, vs, 3)
	assert.Equal(t, "a", vs[0].ID)
	assert.Equal(t, model.HiabGrabber, vs[0].Type)
	assert.Equal(t, "c", vs[2].ID)

	other, err := m.ListVehicles(ctx, "t2")
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, m.DeleteVehicle(ctx, "t1", "b"))
	assert.ErrorIs(t, m.DeleteVehicle(ctx, "t1", "b"), ErrNotFound)
	vs, _ = m.ListVehicles(ctx, "t1")
	assert.Len(t, vs, 2)
}

func TestMemoryRunsLatestAndPaging(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, err := m.LatestRun(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotFound)

	for _, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, m.SaveRun(ctx, model.Run{ID: id, TenantID: "t1"}))
	}
	latest, err := m.LatestRun(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "r3", latest.ID)
	assert.False(t, latest.CreatedAt.IsZero())

	first, next, err := m.ListRuns(ctx, "t1", "", 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "r3", first[0].ID)
	assert.Equal(t, "r2", next)
	rest, next, err := m.ListRuns(ctx, "t1", next, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "r1", rest[0].ID)
	assert.Empty(t, next)
}

func TestMemoryPolicies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	p, err := m.GetPolicies(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, p)

	miles := 40.0
	require.NoError(t, m.SavePolicies(ctx, "t1", model.PolicyPatch{MaxLegMiles: &miles}))
	p, err = m.GetPolicies(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 40.0, p.Apply(model.DefaultPolicies()).MaxLegMiles)
}

func TestMemoryVehicleRequests(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.AddVehicleRequests(ctx, []model.VehicleRequest{
		{TenantID: "t1", JobID: "j1", SuggestedType: "HIAB"},
		{TenantID: "t1", JobID: "j2", SuggestedType: "Van"},
	}))
	items, next, err := m.ListVehicleRequests(ctx, "t1", "", 10)
	require.NoError(t, err)
	assert.Empty(t, next)
	require.Len(t, items, 2)
	assert.NotEmpty(t, items[0].ID)
	assert.Equal(t, "j1", items[0].JobID)
	assert.False(t, items[1].CreatedAt.IsZero())
}

func TestMemoryWebhookLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	payload := []byte(`{"id":"evt_1","type":"plan.completed"}`)
	id, err := m.EnqueueWebhook(ctx, "t1", "sub1", "plan.completed", "http://hook", "s3cret", payload)
	require.NoError(t, err)
	dup, err := m.EnqueueWebhook(ctx, "t1", "sub1", "plan.completed", "http://hook", "s3cret", payload)
	require.NoError(t, err)
	assert.Equal(t, id, dup, "same event id must not enqueue twice")

	due, err := m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	later := time.Now().Add(time.Hour)
	require.NoError(t, m.MarkWebhookDelivery(ctx, id, false, &later, "boom", 500, 12))
	due, _ = m.FetchDueWebhookDeliveries(ctx, 10)
	assert.Empty(t, due)

	require.NoError(t, m.FailWebhookDelivery(ctx, id, "boom", 500, 12))
	dlq, _, err := m.ListWebhookDLQ(ctx, "t1", "", "", 10)
	require.NoError(t, err)
	require.Len(t, dlq, 1)
	assert.Equal(t, id, dlq[0].DeliveryID)
	assert.Equal(t, 2, dlq[0].Attempts)

	other, _, _ := m.ListWebhookDLQ(ctx, "t2", "", "", 10)
	assert.Empty(t, other)

	require.NoError(t, m.RequeueWebhookDLQ(ctx, "t1", dlq[0].ID))
	assert.ErrorIs(t, m.RequeueWebhookDLQ(ctx, "t1", dlq[0].ID), ErrNotFound)
	due, _ = m.FetchDueWebhookDeliveries(ctx, 10)
	require.Len(t, due, 1)
	assert.Equal(t, 0, due[0].Attempts)

	list, _, err := m.ListWebhookDeliveries(ctx, "t1", "pending", "", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0]["id"])
}

func TestMemorySubscriptionsForEvent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, err := m.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "http://a", Events: []string{"plan.completed"}})
	require.NoError(t, err)
	s2, err := m.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "http://b", Events: []string{"vehicle.shortage", "plan.completed"}})
	require.NoError(t, err)

	subs, err := m.GetSubscriptionsForEvent(ctx, "t1", "vehicle.shortage")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, s2.ID, subs[0].ID)

	require.NoError(t, m.DeleteSubscription(ctx, "t1", s2.ID))
	subs, _ = m.GetSubscriptionsForEvent(ctx, "t1", "vehicle.shortage")
	assert.Empty(t, subs)
}
