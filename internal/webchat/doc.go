// Package webchat serves the browser chat surface.
//
// # Routes
//
//	GET  /                   chat page: sidebar, transcript and input
//	GET  /chat/sidebar       thread list partial
//	GET  /chat/transcript    transcript partial for the active thread
//	GET  /chat/events        SSE stream of thread list changes
//	POST /chat/new           start a new chat
//	POST /chat/switch/{id}   make a thread active
//	POST /chat/delete/{id}   delete a thread
//	POST /chat/send          run a turn, streamed as SSE
//	GET  /healthz            liveness probe, never authenticated
//
// # Sessions
//
// Each browser gets a chatbot_session cookie mapping to its own
// session.Session. Sessions unused for Config.SessionIdle are dropped; the
// threads themselves stay in the store.
//
// # Streaming
//
// POST /chat/send answers with Server-Sent Events:
//
//	started      {"thread_id"}
//	title        {"title","thread_id"}        first message of a thread only
//	delta        {"text"}                     assistant text as produced
//	tool         {"tool_name","arguments"}
//	tool_result  {"tool_name","content"}
//	done         {"thread_id","html"}         final reply rendered from markdown
//	error        {"error"}
//
// POST routes require the chatbot_csrf cookie value in the csrf_token form
// field or the X-CSRF-Token header.
package webchat
