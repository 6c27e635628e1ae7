// Package ticker drives a periodic function on a fixed interval using
// robfig/cron. The first run is delayed, later runs follow the interval, and a
// run that is still in progress causes the next trigger to be skipped.
package ticker
