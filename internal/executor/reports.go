package executor

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

const (
	maxMotdLength = 512
	dateLayout    = "2006-01-02 15:04:05"
	wideRule      = "-----------------------------------------------------\n"
	narrowRule    = "---------------------------\n"
)

// isNormal reports whether h is a finite, non-zero, non-subnormal number.
func isNormal(h float64) bool {
	if math.IsNaN(h) || math.IsInf(h, 0) {
		return false
	}
	return math.Abs(h) >= 0x1p-1022
}

func formatRate(h float64) string {
	if isNormal(h) || h == 0 {
		return fmt.Sprintf(" %6.1f", h)
	}
	return "   (na)"
}

// filterMotd strips everything but printable ASCII and newlines. Messages
// over the size limit or empty after filtering are not shown.
func filterMotd(motd string) (string, bool) {
	if len(motd) > maxMotdLength {
		return "", false
	}
	var b strings.Builder
	for i := 0; i < len(motd); i++ {
		c := motd[i]
		if (c >= 0x20 && c <= 0x7e) || c == '\n' {
			b.WriteByte(c)
		}
	}
	return b.String(), b.Len() > 0
}

func formatDate(t time.Time) string {
	return t.Local().Format(dateLayout)
}

// HashrateReport renders per-worker 10s/60s/15m rates, two workers per row,
// followed by totals and the highest aggregate rate seen.
func (e *Executor) HashrateReport() string {
	var b strings.Builder

	if e.cfg.PrintMotd && e.pool.IsRunning() {
		if motd, ok := e.pool.Motd(); ok {
			if text, ok := filterMotd(motd); ok {
				b.WriteString("Message from " + e.pool.Address() + ":\n")
				b.WriteString(text + "\n")
				b.WriteString(wideRule)
			}
		}
	}

	var total [3]float64
	n := len(e.workers)
	if n != 0 {
		b.WriteString("HASHRATE REPORT - CPU\n")
		b.WriteString("| ID |    10s |    60s |    15m |")
		if n != 1 {
			b.WriteString(" ID |    10s |    60s |    15m |\n")
		} else {
			b.WriteString("\n")
		}

		nowMs := e.nowMs()
		for i := 0; i < n; i++ {
			rates := [3]float64{
				e.tele.RateAt(nowMs, 10000, i),
				e.tele.RateAt(nowMs, 60000, i),
				e.tele.RateAt(nowMs, 900000, i),
			}
			fmt.Fprintf(&b, "| %2d |", i)
			b.WriteString(formatRate(rates[0]) + " |")
			b.WriteString(formatRate(rates[1]) + " |")
			b.WriteString(formatRate(rates[2]) + " ")
			for j := range total {
				total[j] += rates[j]
			}
			if i&1 == 1 {
				b.WriteString("|\n")
			}
		}
		if n&1 == 1 {
			b.WriteString("|\n")
		}

		if n != 1 {
			b.WriteString(wideRule)
		} else {
			b.WriteString(narrowRule)
		}
	}

	b.WriteString("Totals:  ")
	for _, t := range total {
		b.WriteString(formatRate(t))
	}
	b.WriteString(" H/s\nHighest: ")
	b.WriteString(formatRate(e.highest))
	b.WriteString(" H/s\n")
	return b.String()
}

// ResultReport renders the accepted/rejected tally for the current
// connection, the best results found and the rejection reasons.
func (e *Executor) ResultReport() string {
	var b strings.Builder

	good := e.results[0].count
	total := good
	for _, r := range e.results[1:] {
		total += r.count
	}

	b.WriteString("RESULT REPORT\n")
	if total == 0 {
		b.WriteString("You haven't found any results yet.\n")
		return b.String()
	}

	connSec := math.Trunc(e.now().Sub(e.connTime).Seconds())

	fmt.Fprintf(&b, "Difficulty       : %d\n", e.poolDiff)
	fmt.Fprintf(&b, "Good results     : %d / %d (%.1f %%)\n", good, total, 100*float64(good)/float64(total))
	if len(e.callTimes) != 0 {
		fmt.Fprintf(&b, "Avg result time  : %.1f sec\n", connSec/float64(len(e.callTimes)))
	}
	fmt.Fprintf(&b, "Pool-side hashes : %d\n\n", e.poolHashes)

	b.WriteString("Top 10 best results found:\n")
	for i := 0; i < topResults; i += 2 {
		fmt.Fprintf(&b, "| %2d | %16d | %2d | %16d |\n", i, e.topDiff[i], i+1, e.topDiff[i+1])
	}

	b.WriteString("\nError details:\n")
	if len(e.results) > 1 {
		b.WriteString("| Count | Error text                       | Last seen           |\n")
		for _, r := range e.results[1:] {
			fmt.Fprintf(&b, "| %5d | %-32.32s | %s |\n", r.count, r.msg, formatDate(r.last))
		}
	} else {
		b.WriteString("Yay! No errors.\n")
	}
	return b.String()
}

// ConnectionReport renders the pool endpoint, connection age, median call
// time and the socket error log.
func (e *Executor) ConnectionReport() string {
	var b strings.Builder
	running := e.pool.IsRunning()

	b.WriteString("CONNECTION REPORT\n")
	if running {
		b.WriteString("Pool address    : " + e.pool.Address() + "\n")
	} else {
		b.WriteString("Pool address    : <not connected>\n")
	}

	if running && e.pool.IsLoggedIn() {
		b.WriteString("Connected since : " + formatDate(e.connTime) + "\n")
	} else {
		b.WriteString("Connected since : <not connected>\n")
	}

	if n := len(e.callTimes); n > 1 {
		sorted := slices.Clone(e.callTimes)
		slices.Sort(sorted)
		fmt.Fprintf(&b, "Pool ping time  : %d ms\n", sorted[n/2])
	} else {
		b.WriteString("Pool ping time  : (n/a)\n")
	}

	b.WriteString("\nNetwork error log:\n")
	if len(e.sockLog) > 0 {
		b.WriteString("| Date                | Error text                                             |\n")
		for _, s := range e.sockLog {
			fmt.Fprintf(&b, "| %s | %-54.54s |\n", formatDate(s.at), s.msg)
		}
	} else {
		b.WriteString("Yay! No errors.\n")
	}
	return b.String()
}
