package feed

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"community_core/internal/pkg"
)

const DefaultWindow = 50

// ErrNotInWorkingSet 帖子存在与否未知，只是不在当前工作集里
var ErrNotInWorkingSet = errors.New("feed: post not in working set")

// Handle 指向一次待确认的修改，Prior 为修改前用户看到的值
type Handle struct {
	id       uint64
	PostID   uint64
	Kind     DeltaKind
	LocalRef string
	Prior    Item
}

// Reconciler 在有界工作集上合并服务端状态与本地乐观修改。
// 可见状态 = base + 按发起顺序叠加的待确认修改。
type Reconciler struct {
	viewer uint64
	window int
	now    func() time.Time

	mu      sync.Mutex
	order   []uint64
	base    map[uint64]Item
	pending map[uint64][]*edit
	nextID  uint64
}

func NewReconciler(viewer uint64, window int) *Reconciler {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Reconciler{
		viewer:  viewer,
		window:  window,
		now:     time.Now,
		base:    make(map[uint64]Item),
		pending: make(map[uint64][]*edit),
	}
}

func (r *Reconciler) Viewer() uint64 { return r.viewer }

func (r *Reconciler) Window() int { return r.window }

// Replace 用一次重新拉取的结果替换 base；已被 base 体现的待确认修改视为已确认并丢弃
func (r *Reconciler) Replace(canonical []Item) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(canonical) > r.window {
		canonical = canonical[:r.window]
	}
	order := make([]uint64, 0, len(canonical))
	base := make(map[uint64]Item, len(canonical))
	for _, it := range canonical {
		if _, dup := base[it.PostID]; dup {
			continue
		}
		order = append(order, it.PostID)
		base[it.PostID] = it.clone()
	}

	pending := make(map[uint64][]*edit, len(r.pending))
	for postID, edits := range r.pending {
		it, ok := base[postID]
		if !ok {
			// 离开工作集的修改不再跟踪
			continue
		}
		running := it.clone()
		claimed := map[uint64]bool{}
		var kept []*edit
		for _, e := range edits {
			if e.reflectedIn(running, claimed) {
				continue
			}
			e.apply(&running)
			kept = append(kept, e)
		}
		if len(kept) > 0 {
			pending[postID] = kept
		}
	}
	r.order, r.base, r.pending = order, base, pending
}

// ApplyOptimistic 立即修改可见状态并返回句柄
func (r *Reconciler) ApplyOptimistic(postID uint64, d Delta) (Handle, error) {
	if d.Actor == 0 || d.Actor != r.viewer {
		return Handle{}, pkg.Forbidden("optimistic edits must come from the viewer")
	}
	if d.Kind < DeltaLike || d.Kind > DeltaComment {
		return Handle{}, pkg.Invalid(fmt.Sprintf("unknown delta %d", d.Kind))
	}
	if d.Kind == DeltaComment {
		content, err := NormalizeComment(d.Content)
		if err != nil {
			return Handle{}, err
		}
		d.Content = content
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.base[postID]
	if !ok {
		return Handle{}, pkg.NewAppError(pkg.ErrNotFound, fmt.Sprintf("post %d not in working set", postID), ErrNotInWorkingSet)
	}
	prior := r.visibleLocked(postID)

	r.nextID++
	e := &edit{id: r.nextID, postID: postID, delta: d, placedAt: r.now()}
	if d.Kind == DeltaComment {
		e.localRef = uuid.NewString()
		e.known = make(map[uint64]bool, len(b.Comments))
		for _, c := range b.Comments {
			e.known[c.ID] = true
		}
	}
	r.pending[postID] = append(r.pending[postID], e)

	return Handle{id: e.id, PostID: postID, Kind: d.Kind, LocalRef: e.localRef, Prior: prior}, nil
}

// Commit 把修改并入 base；句柄已失效时什么也不做
func (r *Reconciler) Commit(h Handle, conf Confirmation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.takeLocked(h)
	if e == nil {
		return
	}
	b := r.base[h.PostID]
	switch e.delta.Kind {
	case DeltaLike, DeltaUnlike:
		e.apply(&b)
		if conf.LikesCount != nil && *conf.LikesCount >= 0 {
			b.LikesCount = *conf.LikesCount
		}
	case DeltaComment:
		if conf.CommentID != 0 && slices.ContainsFunc(b.Comments, func(c Comment) bool { return c.ID == conf.CommentID }) {
			break
		}
		created := conf.CreatedAt
		if created.IsZero() {
			created = e.placedAt
		}
		content := conf.Content
		if content == "" {
			content = e.delta.Content
		}
		b.Comments = append(b.Comments, Comment{
			ID:        conf.CommentID,
			AuthorID:  e.delta.Actor,
			Content:   content,
			CreatedAt: created,
		})
		b.CommentsCount++
	}
	r.base[h.PostID] = b
}

// Rollback 撤销一次修改，同一帖子上的其他待确认修改保持原顺序
func (r *Reconciler) Rollback(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.takeLocked(h)
}

func (r *Reconciler) takeLocked(h Handle) *edit {
	edits := r.pending[h.PostID]
	for i, e := range edits {
		if e.id != h.id {
			continue
		}
		edits = slices.Delete(edits, i, i+1)
		if len(edits) == 0 {
			delete(r.pending, h.PostID)
		} else {
			r.pending[h.PostID] = edits
		}
		return e
	}
	return nil
}

// Pending 某个帖子上待确认修改的数量
func (r *Reconciler) Pending(postID uint64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending[postID])
}

func (r *Reconciler) Item(postID uint64) (Item, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.base[postID]; !ok {
		return Item{}, false
	}
	return r.visibleLocked(postID), true
}

// Items 当前可见视图，按工作集顺序
func (r *Reconciler) Items() []Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Item, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.visibleLocked(id))
	}
	return out
}

func (r *Reconciler) visibleLocked(postID uint64) Item {
	it := r.base[postID].clone()
	for _, e := range r.pending[postID] {
		e.apply(&it)
	}
	return it
}
