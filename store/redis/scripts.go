package redis

import goredis "github.com/redis/go-redis/v9"

// luaHelpers is prepended to every script that moves a job between
// statuses.
const luaHelpers = `
local function move_count(counts, tenant_counts, from, to)
  redis.call('HINCRBY', counts, from, -1)
  redis.call('HINCRBY', counts, to, 1)
  redis.call('HINCRBY', tenant_counts, from, -1)
  redis.call('HINCRBY', tenant_counts, to, 1)
end

-- -1: no such job, 0: lease does not match, 1: caller holds the lease
local function lease_state(key, worker, attempt)
  local f = redis.call('HMGET', key, 'status', 'worker_id', 'attempts')
  if not f[1] then return -1 end
  if f[1] ~= 'processing' or f[2] ~= worker or f[3] ~= attempt then return 0 end
  return 1
end
`

// createScript stores a new job and indexes it.
// KEYS: job, queued, tenant jobs, counts, tenant counts
// ARGV: id, created micros, status, field/value pairs...
var createScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], unpack(ARGV, 4))
if ARGV[3] == 'queued' then redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1]) end
redis.call('ZADD', KEYS[3], ARGV[2], ARGV[1])
redis.call('HINCRBY', KEYS[4], ARGV[3], 1)
redis.call('HINCRBY', KEYS[5], ARGV[3], 1)
return 1
`)

// claimScript walks the queued index oldest first, skipping jobs with no
// attempts left. The first eligible job is claimed and returned as a flat
// field/value list.
// KEYS: queued, processing, counts
// ARGV: now micros, worker id, job key prefix, tenant counts prefix
var claimScript = goredis.NewScript(luaHelpers + `
local now = tonumber(ARGV[1])
local start = 0
while true do
  local ids = redis.call('ZRANGE', KEYS[1], start, start + 99)
  if #ids == 0 then return false end
  local kept = 0
  for _, jid in ipairs(ids) do
    local key = ARGV[3] .. jid
    local f = redis.call('HMGET', key, 'status', 'attempts', 'max_attempts', 'not_before', 'tenant_id')
    if f[1] ~= 'queued' then
      redis.call('ZREM', KEYS[1], jid)
    elseif tonumber(f[2]) < tonumber(f[3]) and tonumber(f[4]) <= now then
      redis.call('ZREM', KEYS[1], jid)
      redis.call('HINCRBY', key, 'attempts', 1)
      redis.call('HSET', key, 'status', 'processing', 'worker_id', ARGV[2],
        'started_at', ARGV[1], 'heartbeat_at', ARGV[1], 'updated_at', ARGV[1])
      redis.call('ZADD', KEYS[2], ARGV[1], jid)
      move_count(KEYS[3], ARGV[4] .. f[5], 'queued', 'processing')
      return redis.call('HGETALL', key)
    else
      kept = kept + 1
    end
  end
  start = start + kept
end
`)

// sweepScript fails every queued job with no attempts left and returns
// their IDs.
// KEYS: queued, counts
// ARGV: now micros, job key prefix, tenant counts prefix, exhausted reason
var sweepScript = goredis.NewScript(luaHelpers + `
local swept = {}
local ids = redis.call('ZRANGE', KEYS[1], 0, -1)
for _, jid in ipairs(ids) do
  local key = ARGV[2] .. jid
  local f = redis.call('HMGET', key, 'status', 'attempts', 'max_attempts', 'tenant_id', 'last_error')
  if f[1] == 'queued' and tonumber(f[2]) >= tonumber(f[3]) then
    redis.call('ZREM', KEYS[1], jid)
    redis.call('HSET', key, 'status', 'failed', 'completed_at', ARGV[1], 'updated_at', ARGV[1])
    if not f[5] or f[5] == '' then
      redis.call('HSET', key, 'last_error', ARGV[4])
    end
    move_count(KEYS[2], ARGV[3] .. f[4], 'queued', 'failed')
    swept[#swept + 1] = jid
  end
end
return swept
`)

// completeScript records a successful render for the lease holder.
// KEYS: job, processing, counts
// ARGV: worker id, attempt, url, summary, now micros, tenant counts
// prefix, job id
var completeScript = goredis.NewScript(luaHelpers + `
local state = lease_state(KEYS[1], ARGV[1], ARGV[2])
if state ~= 1 then return state end
redis.call('HSET', KEYS[1], 'status', 'completed', 'result_url', ARGV[3],
  'result_summary', ARGV[4], 'completed_at', ARGV[5], 'updated_at', ARGV[5])
redis.call('HDEL', KEYS[1], 'heartbeat_at')
redis.call('ZREM', KEYS[2], ARGV[7])
local tenant = redis.call('HGET', KEYS[1], 'tenant_id')
move_count(KEYS[3], ARGV[6] .. tenant, 'processing', 'completed')
return redis.call('HGETALL', KEYS[1])
`)

// failScript records a failed attempt for the lease holder, requeueing
// while attempts remain.
// KEYS: job, processing, queued, counts
// ARGV: worker id, attempt, reason, retry-at micros, now micros, tenant
// counts prefix, job id
var failScript = goredis.NewScript(luaHelpers + `
local state = lease_state(KEYS[1], ARGV[1], ARGV[2])
if state ~= 1 then return state end
local f = redis.call('HMGET', KEYS[1], 'attempts', 'max_attempts', 'created_at', 'tenant_id')
redis.call('HDEL', KEYS[1], 'heartbeat_at')
redis.call('ZREM', KEYS[2], ARGV[7])
if tonumber(f[1]) < tonumber(f[2]) then
  local retry_at = ARGV[4]
  if tonumber(retry_at) < tonumber(ARGV[5]) then retry_at = ARGV[5] end
  redis.call('HSET', KEYS[1], 'status', 'queued', 'worker_id', '', 'not_before', retry_at,
    'last_error', ARGV[3], 'updated_at', ARGV[5])
  redis.call('ZADD', KEYS[3], f[3], ARGV[7])
  move_count(KEYS[4], ARGV[6] .. f[4], 'processing', 'queued')
else
  redis.call('HSET', KEYS[1], 'status', 'failed', 'last_error', ARGV[3],
    'completed_at', ARGV[5], 'updated_at', ARGV[5])
  move_count(KEYS[4], ARGV[6] .. f[4], 'processing', 'failed')
end
return redis.call('HGETALL', KEYS[1])
`)

// heartbeatScript refreshes the heartbeat of the lease holder.
// KEYS: job, processing
// ARGV: worker id, attempt, now micros, job id
var heartbeatScript = goredis.NewScript(luaHelpers + `
local state = lease_state(KEYS[1], ARGV[1], ARGV[2])
if state ~= 1 then return state end
redis.call('HSET', KEYS[1], 'heartbeat_at', ARGV[3], 'updated_at', ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[4])
return 1
`)

// cancelScript cancels a queued job.
// KEYS: job, queued, counts
// ARGV: now micros, tenant counts prefix, job id
var cancelScript = goredis.NewScript(luaHelpers + `
local f = redis.call('HMGET', KEYS[1], 'status', 'tenant_id')
if not f[1] then return -1 end
if f[1] ~= 'queued' then return 0 end
redis.call('HSET', KEYS[1], 'status', 'cancelled', 'completed_at', ARGV[1], 'updated_at', ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[3])
move_count(KEYS[3], ARGV[2] .. f[2], 'queued', 'cancelled')
return redis.call('HGETALL', KEYS[1])
`)

var scripts = []*goredis.Script{
	createScript,
	claimScript,
	completeScript,
	failScript,
	heartbeatScript,
	cancelScript,
}
