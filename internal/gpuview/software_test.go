package gpuview

import "testing"

func solidBGRA(w, h int, b, g, r byte) []byte {
	data := make([]byte, w*h*4)
	for i := 0; i < w*h; i++ {
		data[i*4] = b
		data[i*4+1] = g
		data[i*4+2] = r
		data[i*4+3] = 0xff
	}
	return data
}

func TestCreateViewWithNoOldImageMarksFullDamage(t *testing.T) {
	store := NewImageStore()
	source := Dimensions{Width: 128, Height: 128}
	target := Dimensions{Width: 128, Height: 128}

	src := solidBGRA(128, 128, 10, 20, 30)
	newHandle := store.Alloc(len(src), source)
	store.Set(newHandle, src)

	dst := DestinationViews{
		Main: ViewImages{Y: store.Alloc(target.Width*target.Height, target), UV: store.Alloc(target.Width*target.Height/2, target)},
		Aux:  ViewImages{Y: store.Alloc(target.Width*target.Height, target), UV: store.Alloc(target.Width*target.Height/2, target)},
	}

	creator := NewSoftwareCreator(store, source)
	pending, err := creator.CreateView(SourceImages{New: newHandle}, dst, target)
	if err != nil {
		t.Fatalf("CreateView: %v", err)
	}
	state, err := pending.FinishView()
	if err != nil {
		t.Fatalf("FinishView: %v", err)
	}

	wTiles, hTiles := tileDims(source)
	if state.WidthTiles != wTiles || state.HeightTiles != hTiles {
		t.Fatalf("unexpected tile dims %dx%d", state.WidthTiles, state.HeightTiles)
	}
	for ty := 0; ty < hTiles; ty++ {
		for tx := 0; tx < wTiles; tx++ {
			if !state.TileChanged(tx, ty) {
				t.Fatalf("expected tile (%d,%d) damaged with no previous frame", tx, ty)
			}
		}
	}
}

func TestCreateViewWithUnchangedOldImageMarksNoDamage(t *testing.T) {
	store := NewImageStore()
	source := Dimensions{Width: 128, Height: 128}
	target := Dimensions{Width: 128, Height: 128}

	pixels := solidBGRA(128, 128, 5, 5, 5)
	oldHandle := store.Alloc(len(pixels), source)
	store.Set(oldHandle, pixels)
	newHandle := store.Alloc(len(pixels), source)
	store.Set(newHandle, pixels)

	dst := DestinationViews{
		Main: ViewImages{Y: store.Alloc(target.Width*target.Height, target), UV: store.Alloc(target.Width*target.Height/2, target)},
		Aux:  ViewImages{Y: store.Alloc(target.Width*target.Height, target), UV: store.Alloc(target.Width*target.Height/2, target)},
	}

	creator := NewSoftwareCreator(store, source)
	pending, err := creator.CreateView(SourceImages{New: newHandle, Old: oldHandle}, dst, target)
	if err != nil {
		t.Fatalf("CreateView: %v", err)
	}
	state, err := pending.FinishView()
	if err != nil {
		t.Fatalf("FinishView: %v", err)
	}

	for _, w := range state.Damage {
		if w != 0 {
			t.Fatalf("expected no damage for identical old/new frames, got bitmap %v", state.Damage)
		}
	}
	for _, w := range state.ChromaChange {
		if w != 0 {
			t.Fatalf("expected no chroma change for identical old/new frames, got bitmap %v", state.ChromaChange)
		}
	}
}

func TestCreateViewDetectsLocalizedDamage(t *testing.T) {
	store := NewImageStore()
	source := Dimensions{Width: 128, Height: 128}
	target := Dimensions{Width: 128, Height: 128}

	pixels := solidBGRA(128, 128, 5, 5, 5)
	oldHandle := store.Alloc(len(pixels), source)
	store.Set(oldHandle, pixels)

	changed := make([]byte, len(pixels))
	copy(changed, pixels)
	// Alter a single pixel inside tile (1,0) (x in [64,128), y in [0,64)).
	idx := (0*128 + 70) * 4
	changed[idx] = 250
	newHandle := store.Alloc(len(changed), source)
	store.Set(newHandle, changed)

	dst := DestinationViews{
		Main: ViewImages{Y: store.Alloc(target.Width*target.Height, target), UV: store.Alloc(target.Width*target.Height/2, target)},
		Aux:  ViewImages{Y: store.Alloc(target.Width*target.Height, target), UV: store.Alloc(target.Width*target.Height/2, target)},
	}

	creator := NewSoftwareCreator(store, source)
	pending, err := creator.CreateView(SourceImages{New: newHandle, Old: oldHandle}, dst, target)
	if err != nil {
		t.Fatalf("CreateView: %v", err)
	}
	state, err := pending.FinishView()
	if err != nil {
		t.Fatalf("FinishView: %v", err)
	}

	if !state.TileChanged(1, 0) {
		t.Fatal("expected tile (1,0) to be marked damaged")
	}
	if state.TileChanged(0, 0) {
		t.Fatal("expected tile (0,0) to remain undamaged")
	}
}

func TestFinishViewFailsAfterAlreadyFinished(t *testing.T) {
	store := NewImageStore()
	source := Dimensions{Width: 64, Height: 64}
	target := Dimensions{Width: 64, Height: 64}

	pixels := solidBGRA(64, 64, 1, 2, 3)
	newHandle := store.Alloc(len(pixels), source)
	store.Set(newHandle, pixels)

	dst := DestinationViews{
		Main: ViewImages{Y: store.Alloc(target.Width*target.Height, target), UV: store.Alloc(target.Width*target.Height/2, target)},
		Aux:  ViewImages{Y: store.Alloc(target.Width*target.Height, target), UV: store.Alloc(target.Width*target.Height/2, target)},
	}

	creator := NewSoftwareCreator(store, source)
	pending, err := creator.CreateView(SourceImages{New: newHandle}, dst, target)
	if err != nil {
		t.Fatalf("CreateView: %v", err)
	}
	if _, err := pending.FinishView(); err != nil {
		t.Fatalf("first FinishView: %v", err)
	}
	if _, err := pending.FinishView(); err == nil {
		t.Fatal("expected second FinishView to fail")
	}
}

func TestStateBufferStrideAndTileDims(t *testing.T) {
	if got := stateBufferStride(1920); got != 30 {
		t.Fatalf("stateBufferStride(1920) = %d, want 30", got)
	}
	wTiles, hTiles := tileDims(Dimensions{Width: 1920, Height: 1080})
	if wTiles != 30 || hTiles != 17 {
		t.Fatalf("tileDims(1920x1080) = %d,%d want 30,17", wTiles, hTiles)
	}
}
