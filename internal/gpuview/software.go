package gpuview

import "github.com/gnome-remote-desktop/grd-pipeline/internal/rdperror"

// ImageStore is the in-memory BGRA/NV12 plane registry SoftwareCreator
// reads from and writes to. It stands in for the real Vulkan images: tests
// and the demo harness can inspect exactly what a CreateView call
// produced without a GPU.
type ImageStore struct {
	planes map[ImageHandle][]byte
	dims   map[ImageHandle]Dimensions
	nextID ImageHandle
}

// NewImageStore returns an empty store.
func NewImageStore() *ImageStore {
	return &ImageStore{planes: make(map[ImageHandle][]byte), dims: make(map[ImageHandle]Dimensions)}
}

// Alloc reserves a handle for a plane of the given byte size and
// dimensions (dims is informational; bgra planes use bytesPerPixel=4).
func (s *ImageStore) Alloc(size int, dims Dimensions) ImageHandle {
	s.nextID++
	h := s.nextID
	s.planes[h] = make([]byte, size)
	s.dims[h] = dims
	return h
}

// Set overwrites the plane contents for an already-allocated handle.
func (s *ImageStore) Set(h ImageHandle, data []byte) {
	copy(s.planes[h], data)
}

// Get returns the plane bytes for h, or nil if unallocated.
func (s *ImageStore) Get(h ImageHandle) []byte {
	return s.planes[h]
}

// SoftwareCreator is a CPU implementation of Creator: it downsamples the
// BGRA source into NV12 Y/UV planes with nearest-neighbor sampling and
// computes the damage/chroma-change bitmaps by diffing tiles against the
// previous frame, the way the reference renderer falls back to a software
// rasterizer when no GPU is available. It exists for tests and the demo
// harness; it does not model GPU timing.
type SoftwareCreator struct {
	store  *ImageStore
	source Dimensions
}

// NewSoftwareCreator returns a Creator backed by store for the given
// source dimensions.
func NewSoftwareCreator(store *ImageStore, source Dimensions) *SoftwareCreator {
	return &SoftwareCreator{store: store, source: source}
}

func sampleBGRA(data []byte, width, height, x, y int) (b, g, r, a byte) {
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	if x >= width {
		x = width - 1
	}
	if y >= height {
		y = height - 1
	}
	idx := (y*width + x) * 4
	if idx+4 > len(data) {
		return 0, 0, 0, 0
	}
	return data[idx], data[idx+1], data[idx+2], data[idx+3]
}

func rgbToY(r, g, b byte) byte {
	v := (66*int(r) + 129*int(g) + 25*int(b) + 128) >> 8
	return clampByte(v + 16)
}

func rgbToUV(r, g, b byte) (u, v byte) {
	uVal := (-38*int(r) - 74*int(g) + 112*int(b) + 128) >> 8
	vVal := (112*int(r) - 94*int(g) - 18*int(b) + 128) >> 8
	return clampByte(uVal + 128), clampByte(vVal + 128)
}

func clampByte(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

// CreateView downsamples src.New into dst.Main (full target resolution)
// and dst.Aux (same, spec.md treats main/aux as two independently
// consumable views of one conversion), and computes damage/chroma bitmaps
// against src.Old when present.
func (c *SoftwareCreator) CreateView(src SourceImages, dst DestinationViews, target Dimensions) (*PendingView, error) {
	newData := c.store.Get(src.New)
	if newData == nil {
		return nil, rdperror.New(rdperror.KindProtocolViolation, "gpuview.CreateView", "source image not found", nil)
	}

	yPlane := make([]byte, target.Width*target.Height)
	uvPlane := make([]byte, (target.Width/2)*(target.Height/2)*2)

	for ty := 0; ty < target.Height; ty++ {
		for tx := 0; tx < target.Width; tx++ {
			sx := tx * c.source.Width / target.Width
			sy := ty * c.source.Height / target.Height
			r, g, b, _ := sampleBGRA(newData, c.source.Width, c.source.Height, sx, sy)
			yPlane[ty*target.Width+tx] = rgbToY(r, g, b)
		}
	}
	for ty := 0; ty < target.Height/2; ty++ {
		for tx := 0; tx < target.Width/2; tx++ {
			sx := (tx * 2) * c.source.Width / target.Width
			sy := (ty * 2) * c.source.Height / target.Height
			r, g, b, _ := sampleBGRA(newData, c.source.Width, c.source.Height, sx, sy)
			u, v := rgbToUV(r, g, b)
			idx := (ty*(target.Width/2) + tx) * 2
			uvPlane[idx] = u
			uvPlane[idx+1] = v
		}
	}

	c.store.Set(dst.Main.Y, yPlane)
	c.store.Set(dst.Main.UV, uvPlane)
	c.store.Set(dst.Aux.Y, yPlane)
	c.store.Set(dst.Aux.UV, uvPlane)

	wTiles, hTiles := tileDims(c.source)
	damage := newStateBitmap(wTiles, hTiles)
	chroma := newStateBitmap(wTiles, hTiles)

	oldData := c.store.Get(src.Old)
	performDamage := src.Old != 0 && oldData != nil
	if performDamage {
		for tileY := 0; tileY < hTiles; tileY++ {
			for tileX := 0; tileX < wTiles; tileX++ {
				if tileDiffers(oldData, newData, c.source, tileX, tileY) {
					setBit(damage, wTiles, tileX, tileY)
				}
				if chromaTileDiffers(oldData, newData, c.source, tileX, tileY) {
					setBit(chroma, wTiles, tileX, tileY)
				}
			}
		}
	} else {
		// No previous frame: the whole surface is damaged (an IDR codes
		// every macroblock).
		for i := range damage {
			damage[i] = ^uint32(0)
			chroma[i] = ^uint32(0)
		}
	}

	return &PendingView{
		dst: dst,
		finish: func() (RenderState, error) {
			return RenderState{WidthTiles: wTiles, HeightTiles: hTiles, Damage: damage, ChromaChange: chroma}, nil
		},
	}, nil
}

func tileDiffers(oldData, newData []byte, dims Dimensions, tileX, tileY int) bool {
	x0, y0 := tileX*64, tileY*64
	x1, y1 := minInt(x0+64, dims.Width), minInt(y0+64, dims.Height)
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			idx := (y*dims.Width + x) * 4
			if idx+4 > len(oldData) || idx+4 > len(newData) {
				continue
			}
			for k := 0; k < 4; k++ {
				if oldData[idx+k] != newData[idx+k] {
					return true
				}
			}
		}
	}
	return false
}

func chromaTileDiffers(oldData, newData []byte, dims Dimensions, tileX, tileY int) bool {
	x0, y0 := tileX*64, tileY*64
	x1, y1 := minInt(x0+64, dims.Width), minInt(y0+64, dims.Height)
	for y := y0; y < y1; y += 2 {
		for x := x0; x < x1; x += 2 {
			or, og, ob, _ := sampleBGRA(oldData, dims.Width, dims.Height, x, y)
			nr, ng, nb, _ := sampleBGRA(newData, dims.Width, dims.Height, x, y)
			ou, ov := rgbToUV(or, og, ob)
			nu, nv := rgbToUV(nr, ng, nb)
			if ou != nu || ov != nv {
				return true
			}
		}
	}
	return false
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
