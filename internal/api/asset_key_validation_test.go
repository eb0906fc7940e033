package api

import "testing"

func TestIsValidUserAssetObjectKey(t *testing.T) {
	cases := []struct {
		name   string
		userID uint
		key    string
		want   bool
	}{
		{"own png", 1, "user-assets/1/a.png", true},
		{"own jpeg", 1, "user-assets/1/photo.jpeg", true},
		{"own webp", 1, "user-assets/1/photo.webp", true},
		{"other user", 1, "user-assets/2/a.png", false},
		{"prefix trick", 1, "user-assets/12/a.png", false},
		{"traversal", 1, "user-assets/1/../2/a.png", false},
		{"backslash", 1, `user-assets/1\a.png`, false},
		{"double slash", 1, "user-assets/1//a.png", false},
		{"wrong extension", 1, "user-assets/1/a.pdf", false},
		{"empty", 1, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isValidUserAssetObjectKey(tc.userID, tc.key); got != tc.want {
				t.Fatalf("key %q: got %v want %v", tc.key, got, tc.want)
			}
		})
	}
}

func TestAssetExtensionForContentType(t *testing.T) {
	if ext, ok := assetExtensionForContentType("image/png"); !ok || ext != "png" {
		t.Fatalf("png: got %q %v", ext, ok)
	}
	if ext, ok := assetExtensionForContentType("IMAGE/JPEG"); !ok || ext != "jpg" {
		t.Fatalf("jpeg: got %q %v", ext, ok)
	}
	if _, ok := assetExtensionForContentType("application/pdf"); ok {
		t.Fatal("pdf should be rejected")
	}
}
