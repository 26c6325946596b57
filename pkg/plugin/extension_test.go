package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hookReg(owner, name string) Registration {
	return Registration{Kind: KindHook, Name: name, Owner: owner}
}

func routeReg(owner, method, path string) Registration {
	return Registration{Kind: KindRoute, Name: path, Method: method, Handler: "handle", Owner: owner}
}

func TestExtensionRegistry_RegisterAll(t *testing.T) {
	t.Run("registers hooks filters and routes", func(t *testing.T) {
		reg := NewExtensionRegistry()

		err := reg.RegisterAll([]Registration{
			hookReg("seo", "post_publish"),
			{Kind: KindFilter, Name: "render_title", Owner: "seo"},
			routeReg("seo", "GET", "/sitemap.xml"),
		})

		require.NoError(t, err)
		assert.Len(t, reg.OwnerRegistrations("seo"), 3)
		owner, ok := reg.RouteOwner("GET", "/sitemap.xml")
		assert.True(t, ok)
		assert.Equal(t, "seo", owner)
	})

	t.Run("same hook name across plugins is allowed", func(t *testing.T) {
		reg := NewExtensionRegistry()
		require.NoError(t, reg.RegisterAll([]Registration{hookReg("a", "post_publish")}))
		require.NoError(t, reg.RegisterAll([]Registration{hookReg("b", "post_publish")}))

		hooks := reg.Lookup(KindHook, "post_publish")
		require.Len(t, hooks, 2)
		assert.Equal(t, "a", hooks[0].Owner)
		assert.Equal(t, "b", hooks[1].Owner)
	})

	t.Run("route collision rejects the whole batch", func(t *testing.T) {
		reg := NewExtensionRegistry()
		require.NoError(t, reg.RegisterAll([]Registration{routeReg("first", "POST", "/webhook")}))

		err := reg.RegisterAll([]Registration{
			hookReg("second", "init"),
			routeReg("second", "POST", "/webhook"),
		})

		var rerr *RouteConflictError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, "first", rerr.Owner)
		assert.Equal(t, "POST", rerr.Method)
		assert.Equal(t, "/webhook", rerr.Path)
		// Nothing from the failed batch is visible.
		assert.Empty(t, reg.OwnerRegistrations("second"))
		assert.Empty(t, reg.Lookup(KindHook, "init"))
	})

	t.Run("same path different method does not collide", func(t *testing.T) {
		reg := NewExtensionRegistry()
		require.NoError(t, reg.RegisterAll([]Registration{routeReg("a", "GET", "/webhook")}))
		require.NoError(t, reg.RegisterAll([]Registration{routeReg("b", "POST", "/webhook")}))
	})

	t.Run("intra-batch route collision is rejected", func(t *testing.T) {
		reg := NewExtensionRegistry()

		err := reg.RegisterAll([]Registration{
			routeReg("p", "GET", "/dup"),
			routeReg("p", "GET", "/dup"),
		})

		var rerr *RouteConflictError
		require.ErrorAs(t, err, &rerr)
	})
}

func TestExtensionRegistry_DeregisterOwner(t *testing.T) {
	reg := NewExtensionRegistry()
	require.NoError(t, reg.RegisterAll([]Registration{
		hookReg("seo", "post_publish"),
		routeReg("seo", "GET", "/sitemap.xml"),
	}))
	require.NoError(t, reg.RegisterAll([]Registration{hookReg("other", "post_publish")}))

	reg.DeregisterOwner("seo")

	assert.Empty(t, reg.OwnerRegistrations("seo"))
	_, ok := reg.RouteOwner("GET", "/sitemap.xml")
	assert.False(t, ok)
	// Other owners are untouched.
	assert.Len(t, reg.Lookup(KindHook, "post_publish"), 1)

	// Route is claimable again.
	assert.NoError(t, reg.RegisterAll([]Registration{routeReg("new", "GET", "/sitemap.xml")}))
}

func TestExtensionRegistry_ReplaceOwner(t *testing.T) {
	t.Run("swaps registrations atomically", func(t *testing.T) {
		reg := NewExtensionRegistry()
		require.NoError(t, reg.RegisterAll([]Registration{
			hookReg("shop", "old_hook"),
			routeReg("shop", "GET", "/old"),
		}))

		err := reg.ReplaceOwner("shop", []Registration{
			hookReg("shop", "new_hook"),
			routeReg("shop", "GET", "/new"),
		})

		require.NoError(t, err)
		assert.Empty(t, reg.Lookup(KindHook, "old_hook"))
		assert.Len(t, reg.Lookup(KindHook, "new_hook"), 1)
		_, ok := reg.RouteOwner("GET", "/old")
		assert.False(t, ok)
		owner, ok := reg.RouteOwner("GET", "/new")
		assert.True(t, ok)
		assert.Equal(t, "shop", owner)
	})

	t.Run("keeping the same route across versions works", func(t *testing.T) {
		reg := NewExtensionRegistry()
		require.NoError(t, reg.RegisterAll([]Registration{routeReg("shop", "GET", "/keep")}))

		require.NoError(t, reg.ReplaceOwner("shop", []Registration{routeReg("shop", "GET", "/keep")}))

		owner, _ := reg.RouteOwner("GET", "/keep")
		assert.Equal(t, "shop", owner)
	})

	t.Run("conflict restores the prior set", func(t *testing.T) {
		reg := NewExtensionRegistry()
		require.NoError(t, reg.RegisterAll([]Registration{routeReg("other", "POST", "/taken")}))
		require.NoError(t, reg.RegisterAll([]Registration{
			hookReg("shop", "keep_me"),
			routeReg("shop", "GET", "/mine"),
		}))

		err := reg.ReplaceOwner("shop", []Registration{routeReg("shop", "POST", "/taken")})

		var rerr *RouteConflictError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, "other", rerr.Owner)
		// Prior registrations survive untouched.
		assert.Len(t, reg.Lookup(KindHook, "keep_me"), 1)
		owner, _ := reg.RouteOwner("GET", "/mine")
		assert.Equal(t, "shop", owner)
	})
}
