package install_test

import (
	"testing"

	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/install"
	"github.com/stretchr/testify/require"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	valid := []string{
		"*/5 * * * *",
		"30 2 * * 1-5",
		"5,35 9-17 * * *",
		"@daily",
		"@hourly",
	}
	for _, expr := range valid {
		t.Run(expr, func(t *testing.T) {
			t.Parallel()
			require.NoError(t, install.ParseSchedule(expr))
		})
	}

	invalid := []struct {
		scenario string
		given    string
	}{
		{"empty", ""},
		{"four fields", "* * * *"},
		{"six fields", "0 * * * * *"},
		{"minute out of range", "61 * * * *"},
		{"every macro", "@every 5m"},
		{"reboot macro", "@reboot"},
	}
	for _, tc := range invalid {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			require.Error(t, install.ParseSchedule(tc.given))
		})
	}
}

func TestOnCalendar(t *testing.T) {
	t.Parallel()

	cases := []struct {
		given string
		want  string
	}{
		{"*/5 * * * *", "*-*-* *:0/5:00"},
		{"30 2 * * *", "*-*-* 2:30:00"},
		{"0 4 1 1 *", "*-1-1 4:0:00"},
		{"15 */6 * * *", "*-*-* 0/6:15:00"},
		{"0 8 * * 1-5", "Mon..Fri *-*-* 8:0:00"},
		{"0 12 * * 0", "Sun *-*-* 12:0:00"},
		{"0 12 * * 7", "Sun *-*-* 12:0:00"},
		{"5,35 9-17 * * *", "*-*-* 9..17:5,35:00"},
		{"@weekly", "weekly"},
		{"@midnight", "daily"},
	}
	for _, tc := range cases {
		t.Run(tc.given, func(t *testing.T) {
			t.Parallel()
			got, err := install.OnCalendar(tc.given)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}

	t.Run("stepped day of week is rejected", func(t *testing.T) {
		t.Parallel()
		_, err := install.OnCalendar("0 0 * * */2")
		require.ErrorContains(t, err, "day-of-week")
	})

	t.Run("invalid schedule is rejected", func(t *testing.T) {
		t.Parallel()
		_, err := install.OnCalendar("61 * * * *")
		require.Error(t, err)
	})
}
