// Copyright 2024 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package downloader

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// downloadProgress periodically logs how much of a file has been
// downloaded. It implements io.Writer so it can be fed through an
// io.TeeReader.
type downloadProgress struct {
	mu      sync.Mutex
	total   int
	written int
	done    chan struct{}
}

func newDownloadProgress(total int) *downloadProgress {
	return &downloadProgress{
		total: total,
		done:  make(chan struct{}),
	}
}

func (p *downloadProgress) Write(b []byte) (int, error) {
	p.mu.Lock()
	p.written += len(b)
	p.mu.Unlock()
	return len(b), nil
}

func (p *downloadProgress) Start() {
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-p.done:
				return
			case <-ticker.C:
				p.report()
			}
		}
	}()
}

func (p *downloadProgress) Stop() {
	close(p.done)
	p.report()
}

func (p *downloadProgress) report() {
	p.mu.Lock()
	written, total := p.written, p.total
	p.mu.Unlock()

	if total > 0 {
		log.Debug().Msgf("downloaded %d of %d bytes (%d%%)", written, total, written*100/total)
		return
	}
	log.Debug().Msgf("downloaded %d bytes", written)
}
