package intent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRecurringReminder(t *testing.T) {
	raw := `{"intents":[{"intent":"schedule_reminder","description":"học TOEIC","type":"recurring",
		"hour":20,"minute":30.0,"days_of_week":["mon","wed"],"end_date":"2026-05-01",
		"remind_before_minutes":"15","conversational_response":"Dạ vâng anh"}]}`

	intents, err := Decode(raw)
	require.NoError(t, err)
	require.Len(t, intents, 1)

	sr, ok := intents[0].(ScheduleReminder)
	require.True(t, ok)
	assert.Equal(t, "học TOEIC", sr.Description)
	assert.Equal(t, Recurring, sr.Type)
	require.NotNil(t, sr.Hour)
	require.NotNil(t, sr.Minute)
	assert.Equal(t, 20, *sr.Hour)
	assert.Equal(t, 30, *sr.Minute)
	assert.Equal(t, []string{"mon", "wed"}, sr.Days)
	assert.Equal(t, 15, sr.RemindBefore)
	assert.Equal(t, "Dạ vâng anh", sr.Response())
}

func TestDecodeOmittedHourStaysNil(t *testing.T) {
	intents, err := Decode(`{"intents":[{"intent":"schedule_reminder","type":"recurring","days_of_week":"tue, thu"}]}`)
	require.NoError(t, err)

	sr := intents[0].(ScheduleReminder)
	assert.Nil(t, sr.Hour)
	assert.Nil(t, sr.Minute)
	assert.Equal(t, []string{"tue", "thu"}, sr.Days)
}

func TestDecodeFencedOutput(t *testing.T) {
	raw := "```json\n{\"intents\":[{\"intent\":\"check_schedule\",\"time_range\":\"Tomorrow\"}]}\n```"

	intents, err := Decode(raw)
	require.NoError(t, err)
	cs, ok := intents[0].(CheckSchedule)
	require.True(t, ok)
	assert.Equal(t, "tomorrow", cs.TimeRange)
}

func TestDecodeRepairsNearJSON(t *testing.T) {
	raw := `Here you go: {"intents":[{"intent":"delete_schedule","delete_all":"true",},]}`

	intents, err := Decode(raw)
	require.NoError(t, err)
	ds, ok := intents[0].(DeleteSchedule)
	require.True(t, ok)
	assert.True(t, ds.All)
}

func TestDecodeMalformed(t *testing.T) {
	for _, raw := range []string{"", "   ", "xin chào anh"} {
		_, err := Decode(raw)
		assert.True(t, errors.Is(err, ErrMalformed), "input %q", raw)
	}
}

func TestDecodeEmptyIntentsIsChat(t *testing.T) {
	intents, err := Decode(`{"intents":[]}`)
	require.NoError(t, err)
	assert.True(t, IsChatOnly(intents))
}

func TestDecodeUnknownKindIsChat(t *testing.T) {
	intents, err := Decode(`{"intents":[{"intent":"weather","conversational_response":"Trời đẹp ạ"}]}`)
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, KindChat, intents[0].Kind())
	assert.Equal(t, "Trời đẹp ạ", intents[0].Response())
}

func TestDecodeMultipleIntents(t *testing.T) {
	raw := `{"intents":[
		{"intent":"set_goal","goal":"TOEIC 800"},
		{"intent":"log_event","description":"chạy bộ","start_time":"2025-11-24T06:00:00"},
		{"intent":"clarify_schedule","message":"Dạ mấy giờ ạ?"}]}`

	intents, err := Decode(raw)
	require.NoError(t, err)
	require.Len(t, intents, 3)
	assert.Equal(t, SetGoal{Goal: "TOEIC 800"}, intents[0])
	assert.Equal(t, LogEvent{Description: "chạy bộ", StartTime: "2025-11-24T06:00:00"}, intents[1])
	assert.Equal(t, ClarifySchedule{Message: "Dạ mấy giờ ạ?"}, intents[2])
	assert.False(t, IsChatOnly(intents))
}
