package helper

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// RenderMessage fills the template variables and then resolves spintax.
// vars keys are upper case placeholder names without braces, e.g. "NAME".
func RenderMessage(text string, vars map[string]string) string {
	result := RenderDynamicVariables(text, time.Now())
	for key, value := range vars {
		result = strings.ReplaceAll(result, "{"+key+"}", value)
	}
	return RenderSpintax(result)
}

// RenderSpintax picks one option from every {a|b|c} group. Groups without a
// pipe are left untouched.
func RenderSpintax(text string) string {
	var b strings.Builder
	rest := text
	for {
		start := strings.Index(rest, "{")
		if start == -1 {
			break
		}
		end := strings.Index(rest[start:], "}")
		if end == -1 {
			break
		}
		end += start

		b.WriteString(rest[:start])
		group := rest[start+1 : end]
		if strings.Contains(group, "|") {
			options := strings.Split(group, "|")
			b.WriteString(options[rand.Intn(len(options))])
		} else {
			b.WriteString(rest[start : end+1])
		}
		rest = rest[end+1:]
	}
	b.WriteString(rest)
	return b.String()
}

func RenderDynamicVariables(text string, now time.Time) string {
	hour := now.Hour()
	var timeGreeting string
	switch {
	case hour >= 5 && hour < 12:
		timeGreeting = "Good morning"
	case hour >= 12 && hour < 18:
		timeGreeting = "Good afternoon"
	default:
		timeGreeting = "Good evening"
	}

	date := fmt.Sprintf("%d %s %d", now.Day(), now.Month(), now.Year())

	result := text
	result = strings.ReplaceAll(result, "{TIME_GREETING}", timeGreeting)
	result = strings.ReplaceAll(result, "{DAY_NAME}", now.Weekday().String())
	result = strings.ReplaceAll(result, "{DATE}", date)
	return result
}
