package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDueReminders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	confirmed := f.book(t, vendorID, 11)
	_, err := f.lifecycle.Approve(ctx, confirmed.ID)
	require.NoError(t, err)
	f.book(t, otherVendorID, 12) // pending, never reminded

	deadline := confirmed.CancellationDeadline

	due, err := f.lifecycle.DueReminders(ctx, deadline.AddDate(0, 0, -1).Add(9*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, ReminderCancellationDeadline, due[0].Kind)
	assert.Equal(t, confirmed.ID, due[0].Notice.Reservation.ID)
	assert.Equal(t, "sarasavi@example.com", due[0].Notice.Vendor.Email)
	assert.Equal(t, fairEventID, due[0].Notice.Event.ID)

	due, err = f.lifecycle.DueReminders(ctx, dateOf(fairDate).AddDate(0, 0, -2))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, ReminderEvent, due[0].Kind)

	due, err = f.lifecycle.DueReminders(ctx, testNow)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestDueRemindersSkipsRemovedEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	confirmed := f.book(t, vendorID, 11)
	_, err := f.lifecycle.Approve(ctx, confirmed.ID)
	require.NoError(t, err)
	require.NoError(t, f.lifecycle.RemoveEvent(ctx, fairEventID))

	due, err := f.lifecycle.DueReminders(ctx, dateOf(fairDate).AddDate(0, 0, -2))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestReminderKeyAndSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	confirmed := f.book(t, vendorID, 11)
	_, err := f.lifecycle.Approve(ctx, confirmed.ID)
	require.NoError(t, err)

	due, err := f.lifecycle.DueReminders(ctx, dateOf(fairDate).AddDate(0, 0, -2))
	require.NoError(t, err)
	require.Len(t, due, 1)

	day := dateOf(fairDate).AddDate(0, 0, -2)
	assert.Equal(t, due[0].Key(day), due[0].Key(day.Add(20*time.Hour)), "stable within a day")
	assert.NotEqual(t, due[0].Key(day), due[0].Key(day.AddDate(0, 0, 1)))

	require.NoError(t, due[0].Send(ctx, f.dispatcher))
	assert.Equal(t, 1, f.dispatcher.count(ReminderEvent))

	bogus := Reminder{Kind: "birthday", Notice: due[0].Notice}
	assert.Error(t, bogus.Send(ctx, f.dispatcher))
}
