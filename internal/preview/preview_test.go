package preview

import (
	"context"
	"image"
	"image/color"
	"testing"

	"image-pipeline/internal/blob"
)

func testImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	return img
}

type emitted struct {
	stage  Stage
	w, h   int
	length int
}

func TestGenerateEmitsStagesInOrder(t *testing.T) {
	src := testImage(1600, 1200)

	var got []emitted
	err := Generate(context.Background(), src, func(stage Stage, h *blob.Handle, w, ht int) {
		got = append(got, emitted{stage: stage, w: w, h: ht, length: h.Len()})
		h.Release()
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(got) != 3 {
		t.Fatalf("emitted %d stages, want 3", len(got))
	}
	for i, e := range got {
		if e.stage.Name != Stages[i].Name {
			t.Errorf("stage %d = %s, want %s", i, e.stage.Name, Stages[i].Name)
		}
		longest := e.w
		if e.h > longest {
			longest = e.h
		}
		if longest != Stages[i].LongestEdge {
			t.Errorf("stage %s longest edge = %d, want %d", e.stage.Name, longest, Stages[i].LongestEdge)
		}
		if e.length == 0 {
			t.Errorf("stage %s emitted an empty blob", e.stage.Name)
		}
		// 4:3 aspect carried through each stage
		if e.w*3 != e.h*4 {
			t.Errorf("stage %s = %dx%d, aspect not preserved", e.stage.Name, e.w, e.h)
		}
	}
}

func TestGenerateSkipsStagesLargerThanSource(t *testing.T) {
	src := testImage(300, 200)

	var names []string
	err := Generate(context.Background(), src, func(stage Stage, h *blob.Handle, _, _ int) {
		names = append(names, stage.Name)
		h.Release()
	})
	if err != nil {
		t.Fatal(err)
	}

	// Only tiny (100px) shrinks a 300px source; small and medium would
	// meet or exceed it.
	if len(names) != 1 || names[0] != "tiny" {
		t.Errorf("emitted %v, want [tiny]", names)
	}
}

func TestGenerateStopsOnCancel(t *testing.T) {
	src := testImage(1600, 1200)
	ctx, cancel := context.WithCancel(context.Background())

	var count int
	err := Generate(ctx, src, func(stage Stage, h *blob.Handle, _, _ int) {
		count++
		h.Release()
		cancel() // consumer has seen enough
	})
	if err == nil {
		t.Fatal("expected a cancellation error")
	}
	if count != 1 {
		t.Errorf("emitted %d stages after cancel, want 1", count)
	}
}

func TestGenerateLeavesNoHandles(t *testing.T) {
	src := testImage(1000, 1000)
	before := blob.Outstanding()

	err := Generate(context.Background(), src, func(_ Stage, h *blob.Handle, _, _ int) {
		h.Release()
	})
	if err != nil {
		t.Fatal(err)
	}

	if after := blob.Outstanding(); after != before {
		t.Errorf("outstanding handles %d -> %d, want unchanged", before, after)
	}
}

func TestGenerateInvalidInput(t *testing.T) {
	if err := Generate(context.Background(), nil, func(Stage, *blob.Handle, int, int) {}); err == nil {
		t.Error("nil source should error")
	}
	if err := Generate(context.Background(), testImage(10, 10), nil); err == nil {
		t.Error("nil emit should error")
	}
}
