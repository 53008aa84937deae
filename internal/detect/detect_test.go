package detect

import (
	"testing"

	"github.com/your-org/facepipeline/internal/vision"
)

func faceAt(x1, y1, x2, y2 float32, eyesPresent bool) vision.Detection {
	d := vision.Detection{BBox: [4]float32{x1, y1, x2, y2}, Confidence: 0.9}
	if eyesPresent {
		d.Landmarks[0] = [2]float32{x1 + 5, y1 + 5}
		d.Landmarks[1] = [2]float32{x2 - 5, y1 + 5}
	}
	return d
}

func TestQualifyKeepsExactlyAtFloor(t *testing.T) {
	d := faceAt(0, 0, 60, 60, true)
	kept := qualify([]vision.Detection{d}, 60, 60)
	if len(kept) != 1 {
		t.Fatalf("w=60,h=60 should clear the floor, got %d kept", len(kept))
	}
}

func TestQualifyDropsOnePixelUnderWidth(t *testing.T) {
	d := faceAt(0, 0, 59, 100, true)
	kept := qualify([]vision.Detection{d}, 60, 60)
	if len(kept) != 0 {
		t.Fatalf("w=59 is below the 60px floor, should be dropped")
	}
}

func TestQualifyDropsUnderHeight(t *testing.T) {
	d := faceAt(0, 0, 100, 59, true)
	kept := qualify([]vision.Detection{d}, 60, 60)
	if len(kept) != 0 {
		t.Fatalf("h=59 is below the 60px floor, should be dropped")
	}
}

func TestQualifyDropsMissingEyeLandmark(t *testing.T) {
	d := faceAt(0, 0, 100, 100, true)
	d.Landmarks[1] = [2]float32{0, 0} // left eye unlocated
	kept := qualify([]vision.Detection{d}, 60, 60)
	if len(kept) != 0 {
		t.Fatalf("a landmark at the origin means the eye wasn't located, should be dropped")
	}
}

func TestQualifyPreservesOrderAndDropsInPlace(t *testing.T) {
	small := faceAt(0, 0, 10, 10, true)
	big1 := faceAt(0, 0, 100, 100, true)
	big2 := faceAt(200, 200, 300, 300, true)
	kept := qualify([]vision.Detection{big1, small, big2}, 60, 60)
	if len(kept) != 2 {
		t.Fatalf("expected 2 qualifying detections, got %d", len(kept))
	}
	if kept[0].BBox != big1.BBox || kept[1].BBox != big2.BBox {
		t.Fatalf("qualify must preserve input order")
	}
}

func TestEyeLandmarkPresentAtOrigin(t *testing.T) {
	if eyeLandmarkPresent([2]float32{0, 0}) {
		t.Fatalf("(0,0) is the RetinaFace not-found sentinel, must not count as present")
	}
	if !eyeLandmarkPresent([2]float32{1, 1}) {
		t.Fatalf("any positive coordinate should count as present")
	}
}
