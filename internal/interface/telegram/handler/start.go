package handler

import (
	tele "gopkg.in/telebot.v3"
)

// HelpText lists every command.
const HelpText = `Timers
/countdown <minutes> [label] - count down, e.g. /countdown 45 algebra
/countdown <YYYY-MM-DD> [HH:MM] [label] - count down to a date
/pomodoro [focus] [break] - focus block, then a break (default 25 and 5 minutes)
/stopwatch [subject] - track study time
/pause, /resume, /stop, /status - control the running timer

Progress
/checkin - mark today as a study day
/streak - your check-in streak
/stats - today and the last 7 days
/top [n] - today's study board

Starting a new timer replaces the running one.`

// Start handles /start.
func Start(c tele.Context) error {
	return c.Send("Hi! I keep time while you study.\n\n" + HelpText)
}

// Help handles /help.
func Help(c tele.Context) error {
	return c.Send(HelpText)
}
