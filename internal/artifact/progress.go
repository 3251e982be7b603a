package artifact

import (
	"io"
	"time"
)

// progressReader counts bytes read and reports the completed fraction at
// most once per interval. Nothing is reported when the size is unknown.
type progressReader struct {
	r        io.Reader
	size     int64
	read     int64
	interval time.Duration
	last     time.Time
	report   ProgressFunc
}

func newProgressReader(r io.Reader, size int64, interval time.Duration, report ProgressFunc) *progressReader {
	return &progressReader{r: r, size: size, interval: interval, last: time.Now(), report: report}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)

	if p.report == nil || p.size <= 0 {
		return n, err
	}
	// The final fraction is left to the caller once the file is in place
	if p.read >= p.size || err != nil {
		return n, err
	}
	if now := time.Now(); now.Sub(p.last) >= p.interval {
		p.last = now
		p.report(float64(p.read) / float64(p.size))
	}
	return n, err
}
