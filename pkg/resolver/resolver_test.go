package resolver

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HKUDS/secretary-go/pkg/intent"
)

var saigon = time.FixedZone("ICT", 7*3600)

func at(y int, mo time.Month, d, h, m int) time.Time {
	return time.Date(y, mo, d, h, m, 0, 0, saigon)
}

func intPtr(v int) *int { return &v }

func oneOff(runDate string) intent.ScheduleReminder {
	return intent.ScheduleReminder{Description: "gặp khách", Type: intent.OneOff, RunDate: runDate}
}

func assertSameInstant(t *testing.T, want, got time.Time) {
	t.Helper()
	assert.True(t, want.Equal(got), "want %s, got %s", want, got)
}

func requireClarification(t *testing.T, err error, reason Reason) {
	t.Helper()
	var cn *ClarificationNeeded
	require.True(t, errors.As(err, &cn), "expected clarification, got %v", err)
	assert.Equal(t, reason, cn.Reason)
}

func TestVagueTimeNeedsClarification(t *testing.T) {
	now := at(2025, time.November, 24, 7, 0)

	cases := []Request{
		{Intent: oneOff("2025-11-25T08:00:00"), Text: "sáng mai tôi đi gặp khách"},
		{Intent: oneOff("2025-11-24T14:00:00"), Text: "chiều nay làm báo cáo"},
		{Intent: oneOff(""), Text: "tối nay họp"},
		{Intent: intent.ScheduleReminder{Type: intent.Recurring, Days: []string{"mon"}}, Text: "học toeic mỗi sáng thứ 2"},
	}
	for _, c := range cases {
		_, err := Resolve(c, now)
		requireClarification(t, err, ReasonMissingTime)
	}
}

func TestMidnightGuard(t *testing.T) {
	now := at(2025, time.November, 24, 10, 0)

	_, err := Resolve(Request{Intent: oneOff("2025-11-25T00:00:00"), Text: "mai 25/11 nộp bài"}, now)
	requireClarification(t, err, ReasonMidnight)

	res, err := Resolve(Request{Intent: oneOff("2025-11-25T00:00:00"), Text: "nhắc anh lúc nửa đêm 25/11"}, now)
	require.NoError(t, err)
	assertSameInstant(t, at(2025, time.November, 25, 0, 0), res.OnTime.At)

	res, err = Resolve(Request{Intent: oneOff("2025-11-25T00:00:00"), Text: "0h ngày 25 nộp bài"}, now)
	require.NoError(t, err)
	assert.Equal(t, 0, res.OnTime.At.Hour())
}

func TestTenOClockIsNotMidnight(t *testing.T) {
	assert.False(t, hasMidnightMarker("10h sáng"))
	assert.False(t, hasMidnightMarker("20h"))
	assert.True(t, hasMidnightMarker("0h"))
	assert.True(t, hasMidnightMarker("lúc 00:00"))
}

func TestPMInference(t *testing.T) {
	now := at(2025, time.November, 24, 19, 0)

	res, err := Resolve(Request{Intent: oneOff("2025-11-24T08:00:00"), Text: "8h gọi mẹ"}, now)
	require.NoError(t, err)
	assertSameInstant(t, at(2025, time.November, 24, 20, 0), res.OnTime.At)
	assert.False(t, res.Shifted)
}

func TestExplicitAMIsKept(t *testing.T) {
	now := at(2025, time.November, 24, 19, 0)

	res, err := Resolve(Request{Intent: oneOff("2025-11-24T08:00:00"), Text: "8h sáng gọi mẹ"}, now)
	require.NoError(t, err)
	assertSameInstant(t, at(2025, time.November, 25, 8, 0), res.OnTime.At)
	assert.True(t, res.Shifted)
}

func TestRolloverAdvancesExactlyOneDay(t *testing.T) {
	now := at(2025, time.November, 24, 22, 0)

	res, err := Resolve(Request{Intent: oneOff("2025-11-24T09:00:00"), Text: "9h họp"}, now)
	require.NoError(t, err)
	assertSameInstant(t, at(2025, time.November, 25, 9, 0), res.OnTime.At)
	assert.True(t, res.Shifted)

	// A date two days in the past moves one day only.
	res, err = Resolve(Request{Intent: oneOff("2025-11-22T15:00:00"), Text: "15h họp"}, now)
	require.NoError(t, err)
	assertSameInstant(t, at(2025, time.November, 23, 15, 0), res.OnTime.At)
}

func TestFutureOneOffUnchanged(t *testing.T) {
	now := at(2025, time.November, 24, 7, 0)

	res, err := Resolve(Request{Intent: oneOff("2025-11-24T09:30:00+07:00"), Text: "9h30 họp"}, now)
	require.NoError(t, err)
	assertSameInstant(t, at(2025, time.November, 24, 9, 30), res.OnTime.At)
	assert.False(t, res.Shifted)
	assert.Nil(t, res.Early)
}

func TestOneOffEarlyTrigger(t *testing.T) {
	now := at(2025, time.November, 24, 7, 0)
	in := oneOff("2025-11-24T09:00:00")
	in.RemindBefore = 15

	res, err := Resolve(Request{Intent: in, Text: "9h họp, nhắc trước 15 phút"}, now)
	require.NoError(t, err)
	require.NotNil(t, res.Early)
	assertSameInstant(t, at(2025, time.November, 24, 8, 45), res.Early.At)
	assertSameInstant(t, at(2025, time.November, 24, 9, 0), res.OnTime.At)
}

func TestOneOffEarlyTriggerInPastIsDropped(t *testing.T) {
	now := at(2025, time.November, 24, 8, 55)
	in := oneOff("2025-11-24T09:00:00")
	in.RemindBefore = 15

	res, err := Resolve(Request{Intent: in, Text: "9h họp"}, now)
	require.NoError(t, err)
	assert.Nil(t, res.Early)
}

func TestWeeklyEarlyTriggerRollsBackWeekday(t *testing.T) {
	in := intent.ScheduleReminder{
		Description:  "họp",
		Type:         intent.Recurring,
		Hour:         intPtr(0),
		Minute:       intPtr(5),
		Days:         []string{"mon"},
		RemindBefore: 10,
	}

	res, err := Resolve(Request{Intent: in, Text: "0h05 thứ 2"}, time.Now())
	require.NoError(t, err)
	require.NotNil(t, res.Early)

	assert.Equal(t, 23, res.Early.Hour)
	assert.Equal(t, 55, res.Early.Minute)
	assert.Equal(t, "sun", res.Early.Days.String())

	assert.Equal(t, 0, res.OnTime.Hour)
	assert.Equal(t, 5, res.OnTime.Minute)
	assert.Equal(t, "mon", res.OnTime.Days.String())
}

func TestWeeklyEarlyTriggerSameDay(t *testing.T) {
	on := Trigger{Kind: Weekly, Hour: 19, Minute: 30, Days: Days{time.Tuesday, time.Thursday}}
	early := EarlyWeekly(on, 30)

	assert.Equal(t, "19:00", early.Clock())
	assert.Equal(t, "tue,thu", early.Days.String())
}

func TestWeeklyEarlyTriggerMultipleDays(t *testing.T) {
	on := Trigger{Kind: Weekly, Hour: 1, Minute: 0, Days: Days{time.Monday, time.Sunday}}
	early := EarlyWeekly(on, 24*60+90)

	assert.Equal(t, "23:30", early.Clock())
	assert.Equal(t, "fri,sat", early.Days.String())
	assert.Equal(t, "mon,sun", on.Days.String())
}

func TestWeeklyValidation(t *testing.T) {
	_, err := Resolve(Request{Intent: intent.ScheduleReminder{Type: intent.Recurring, Hour: intPtr(8)}}, time.Now())
	requireClarification(t, err, ReasonMissingDays)

	_, err = Resolve(Request{Intent: intent.ScheduleReminder{Type: intent.Recurring, Hour: intPtr(25), Days: []string{"mon"}}}, time.Now())
	requireClarification(t, err, ReasonInvalid)

	_, err = Resolve(Request{Intent: intent.ScheduleReminder{Type: intent.Recurring, Hour: intPtr(8), Days: []string{"funday"}}}, time.Now())
	requireClarification(t, err, ReasonInvalid)

	_, err = Resolve(Request{Intent: intent.ScheduleReminder{Type: intent.Recurring, Hour: intPtr(8), Days: []string{"mon"}, EndDate: "17/12"}}, time.Now())
	requireClarification(t, err, ReasonInvalid)
}

func TestWeeklyDefaultsMinuteToZero(t *testing.T) {
	res, err := Resolve(Request{Intent: intent.ScheduleReminder{
		Type: intent.Recurring, Hour: intPtr(20), Days: []string{"wed", "mon", "mon"}, EndDate: "2025-12-17",
	}}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "20:00", res.OnTime.Clock())
	assert.Equal(t, "mon,wed", res.OnTime.Days.String())
	assert.Equal(t, "2025-12-17", res.OnTime.EndDate)
}

func TestInferTypeWhenMissing(t *testing.T) {
	res, err := Resolve(Request{Intent: intent.ScheduleReminder{Hour: intPtr(7), Days: []string{"sat"}}}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, Weekly, res.OnTime.Kind)

	_, err = Resolve(Request{Intent: intent.ScheduleReminder{}}, time.Now())
	requireClarification(t, err, ReasonMissingType)
}

func TestNegativeRemindBefore(t *testing.T) {
	in := oneOff("2025-11-24T09:00:00")
	in.RemindBefore = -5
	_, err := Resolve(Request{Intent: in, Text: "9h"}, at(2025, time.November, 24, 7, 0))
	requireClarification(t, err, ReasonInvalid)
}

func TestParseInstantConvertsOffset(t *testing.T) {
	got, err := ParseInstant("2025-11-24T02:00:00Z", saigon)
	require.NoError(t, err)
	assert.Equal(t, 9, got.Hour())
	assert.Equal(t, saigon, got.Location())

	_, err = ParseInstant("tomorrow", saigon)
	assert.Error(t, err)
}
