package ppu

// renderBackgroundLine computes the 160 BG color indices for scanline ly:
// it runs a tileFetcher across the visible tile-map row, discards SCX's
// sub-tile pixels from the first fetch, and wraps the tile-map column at
// its 32-tile width as it crosses tile boundaries.
func renderBackgroundLine(mem VRAMReader, mapBase uint16, use8000 bool, scx, scy, ly byte) [160]byte {
	bgY := uint16(ly) + uint16(scy)
	fineY := byte(bgY & 7)
	mapRow := (bgY >> 3) & 31
	tileCol := (uint16(scx) >> 3) & 31
	discard := int(scx & 7)

	var q pixelFIFO
	tf := newTileFetcher(mem, &q)
	tf.seek(mapBase+mapRow*32+tileCol, use8000, fineY)
	tf.fetchRow()
	for i := 0; i < discard; i++ {
		q.Pop()
	}

	var out [160]byte
	for x := 0; x < 160; x++ {
		if q.Len() == 0 {
			tileCol = (tileCol + 1) & 31
			tf.seek(mapBase+mapRow*32+tileCol, use8000, fineY)
			tf.fetchRow()
		}
		out[x], _ = q.Pop()
	}
	return out
}

// renderWindowLine computes window-layer color indices starting at screen
// column wxStart (WX-7), using winLine as the window's own internal line
// counter (which only advances on scanlines the window actually draws).
// Columns left of wxStart are left at 0 so the caller can overlay the
// result onto a background line without clobbering pixels the window
// doesn't cover.
func renderWindowLine(mem VRAMReader, mapBase uint16, use8000 bool, wxStart int, winLine byte) [160]byte {
	var out [160]byte
	if wxStart >= 160 {
		return out
	}
	if wxStart < 0 {
		wxStart = 0
	}

	mapRow := (uint16(winLine) >> 3) & 31
	fineY := winLine & 7
	tileCol := uint16(0)

	var q pixelFIFO
	tf := newTileFetcher(mem, &q)
	tf.seek(mapBase+mapRow*32+tileCol, use8000, fineY)
	tf.fetchRow()
	for x := wxStart; x < 160; x++ {
		if q.Len() == 0 {
			tileCol = (tileCol + 1) & 31
			tf.seek(mapBase+mapRow*32+tileCol, use8000, fineY)
			tf.fetchRow()
		}
		out[x], _ = q.Pop()
	}
	return out
}
